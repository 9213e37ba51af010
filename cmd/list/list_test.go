package list

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand executes a command and captures its stdout
func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	// Save original stdout
	oldStdout := os.Stdout

	// Create a pipe to capture stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// Set up command
	cmd.SetOut(w)
	cmd.SetErr(w)
	cmd.SetArgs(args)

	// Execute command
	err := cmd.Execute()

	// Close the writer and restore stdout
	w.Close()
	os.Stdout = oldStdout

	// Read the captured output
	var buf bytes.Buffer
	if _, copyErr := io.Copy(&buf, r); copyErr != nil {
		fmt.Fprintf(os.Stderr, "Error copying output: %v\n", copyErr)
	}

	return buf.String(), err
}

func TestProvidersCmd(t *testing.T) {
	output, err := executeCommand(NewProvidersCmd())
	require.NoError(t, err)
	assert.Contains(t, output, "AWS")
	assert.Contains(t, output, "GCP")
	assert.Contains(t, output, "AZURE")
}

func TestCategoriesCmd(t *testing.T) {
	output, err := executeCommand(NewCategoriesCmd())
	require.NoError(t, err)
	assert.Contains(t, output, "COMPUTE")
	assert.Contains(t, output, "AI_ML")
	assert.Contains(t, output, "OTHER")
}

func TestEquivalentsCmd(t *testing.T) {
	output, err := executeCommand(NewEquivalentsCmd(),
		"--source", "aws", "Amazon Elastic Compute Cloud - Compute")
	require.NoError(t, err)
	assert.Contains(t, output, "COMPUTE")
	assert.Contains(t, output, "Compute Engine")
	assert.Contains(t, output, "Virtual Machines")
}

func TestEquivalentsCmdUnknownService(t *testing.T) {
	output, err := executeCommand(NewEquivalentsCmd(),
		"--source", "aws", "Totally Unheard Of Service XYZ")
	require.NoError(t, err)
	assert.Contains(t, output, "not a recognized")
}

func TestEquivalentsCmdBadProvider(t *testing.T) {
	_, err := executeCommand(NewEquivalentsCmd(),
		"--source", "oracle", "Something")
	assert.Error(t, err)
}
