//go:build mage

// Package main provides build targets for mongorito using Mage.
//
// Usage:
//
//	mage build             Compile the mongorito binary to bin/
//	mage test:unit         Run the tests that need no external store
//	mage test:integration  Run the tests against MongoDB and PostgreSQL
//	mage lint              Run golangci-lint
//	mage clean             Remove build artifacts
//	mage install           Install mongorito to GOPATH/bin
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "mongorito"
	binaryDir  = "bin"
	cmdDir     = "./cmd/mongorito"

	// envMongoURL and envPostgresURL name the stores used by the
	// integration tests; the driver tests skip when they are unset.
	envMongoURL    = "MONGORITO_TEST_MONGODB_URL"
	envPostgresURL = "MONGORITO_TEST_POSTGRES_URL"
)

// Build compiles the mongorito binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	ldflags := "-X main.version=" + version
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Test groups test targets.
type Test mg.Namespace

// Unit runs every test with the external stores disabled.
func (Test) Unit() error {
	env := map[string]string{envMongoURL: "", envPostgresURL: ""}
	return sh.RunWithV(env, binGo, "test", "-race", "./...")
}

// Integration runs the driver tests against the stores named by
// MONGORITO_TEST_MONGODB_URL and MONGORITO_TEST_POSTGRES_URL.
func (Test) Integration() error {
	if os.Getenv(envMongoURL) == "" && os.Getenv(envPostgresURL) == "" {
		return fmt.Errorf("set %s or %s to run the integration tests", envMongoURL, envPostgresURL)
	}
	return sh.RunV(binGo, "test", "-count=1", "-v", "./driver/...")
}
