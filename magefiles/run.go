//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the pipeline host with hot reload enabled.
func (Run) Host() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run pipeline host...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "anima.toml", "-watch"), withStream()); err != nil {
		return err
	}
	return nil
}

type Test mg.Namespace

// Runs the unit tests of every package.
func (Test) Unit() error {
	if _, err := executeCmd("go", withArgs("test", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go vet and go mod tidy.
func (Test) Lint() error {
	if err := goTidy(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}
