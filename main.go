/*
Headless pipeline host: opens the device, loads every .pipelinecfg under the
shader directory and hot reloads them until interrupted.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func init() {
	// GLFW and the Vulkan loader expect the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "TOML configuration file")
	watch := flag.Bool("watch", false, "hot reload pipelines when shader files change")
	validation := flag.Bool("validation", false, "enable the Vulkan validation layers")
	useGLFW := flag.Bool("glfw", false, "load Vulkan through GLFW")
	flag.Parse()

	config := core.DefaultConfig()
	if *configPath != "" {
		cfg, err := core.LoadConfig(*configPath)
		if err != nil {
			os.Exit(1)
		}
		config = cfg
	}
	if *watch {
		config.Assets.Watch = true
	}

	e, err := engine.New(config, engine.Options{
		ApplicationName: "anima-rhi",
		Validation:      *validation,
		LoaderGLFW:      *useGLFW,
	})
	if err != nil {
		os.Exit(1)
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal("initialization failed", "err", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		e.Shutdown()
	}()

	// run engine
	if err := e.Run(); err != nil {
		core.LogFatal("engine stopped with an error", "err", err)
	}
}
