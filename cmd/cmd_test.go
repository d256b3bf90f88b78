package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDetectVersionCommand(t *testing.T) {
	out, err := execute(t, "detect-version", "0x0000000071727de22e5e9d8baf0edac6f37da032")
	require.NoError(t, err)
	assert.Equal(t, "v0.7\n", out)

	out, err = execute(t, "detect-version", "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "v0.6 (unknown address, assumed)\n", out)
}

func TestEncodeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "op.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"sender": "0x9C5f2A1e1b6E9B7a0e13F6c5D5f0d4bC3e2A1b00",
		"nonce": "0x1",
		"initCode": "0x",
		"callData": "0xd09de08a",
		"callGasLimit": "0x186a0",
		"verificationGasLimit": "0x30d40",
		"preVerificationGas": "0xc350",
		"maxFeePerGas": "0x1",
		"maxPriorityFeePerGas": "0x1",
		"paymasterAndData": "0x",
		"signature": "0x"
	}`), 0o600))

	out, err := execute(t, "encode", "--to", "v0.7", path)
	require.NoError(t, err)
	assert.Contains(t, out, "decoded v0.6 operation, encoding as v0.7")

	_, err = execute(t, "encode", "--to", "v0.8", path)
	assert.ErrorContains(t, err, "unknown target version")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "0.1.0 (unknown)\n", out)
}
