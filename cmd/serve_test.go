package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostArgsInheritGlobalFlags(t *testing.T) {
	origPath, origDebug := rootConfigPath, rootDebug
	defer func() {
		rootConfigPath, rootDebug = origPath, origDebug
	}()

	rootConfigPath = ""
	rootDebug = false
	assert.Equal(t, []string{"host"}, hostArgs())

	rootConfigPath = "/etc/azbroker"
	rootDebug = true
	assert.Equal(t, []string{"host", "--config-path", "/etc/azbroker", "--debug"}, hostArgs())
}
