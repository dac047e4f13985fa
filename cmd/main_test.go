package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 子命令把错误交回 main，由 main 决定退出码
func Test_CommandErrors(t *testing.T) {
	ProgramFile, ImageHex, SessionFile, StorePath = "", "", "", ""

	err := runCommand.RunE(runCommand, nil)
	require.NotNil(t, err)
	assert.Equal(t, "run: --program is required", err.Error())

	err = liftCommand.RunE(liftCommand, nil)
	require.NotNil(t, err)
	assert.Equal(t, "lift: --program or --image is required", err.Error())

	err = sessionListCommand.RunE(sessionListCommand, nil)
	require.NotNil(t, err)
	assert.Equal(t, "session: --store is required", err.Error())

	assert.True(t, rootCmd.SilenceUsage)
}
