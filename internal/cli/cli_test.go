package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const reviewerMD = `---
name: reviewer
description: Reviews code changes
tags: [review]
---
You review code.
`

const writerYAML = `version: "1"
subagent:
  name: writer
  description: Writes documentation
  scope: project
`

const routingSettings = `router:
  disable_default_rules: true
  max_fanout: 2
  rules:
    - name: review
      literal: review
      targets: [reviewer]
      confidence: 1
    - name: docs
      literal: review
      targets: [writer]
      confidence: 1
`

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	agents := filepath.Join(root, ".claude", "agents")
	require.NoError(t, os.MkdirAll(agents, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agents, "reviewer.md"), []byte(reviewerMD), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(agents, "writer.yaml"), []byte(writerYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".claude", "subagents.yaml"), []byte(routingSettings), 0o600))
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SUBAGENTS_MODEL_PROVIDER", "echo")
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	root := setupProject(t)
	out, err := run(t, "list", "--root", root, "--include-user=false")
	require.NoError(t, err)
	require.Contains(t, out, "reviewer")
	require.Contains(t, out, "agent.writer")

	out, err = run(t, "list", "--root", root, "--include-user=false", "--tag", "review")
	require.NoError(t, err)
	require.Contains(t, out, "reviewer")
	require.NotContains(t, out, "writer")
}

func TestRouteCommand(t *testing.T) {
	root := setupProject(t)
	out, err := run(t, "route", "--root", root, "--include-user=false", "please review this")
	require.NoError(t, err)
	require.Contains(t, out, "strategy: fanout")
	require.Contains(t, out, "-> reviewer [1/2]")
	require.Contains(t, out, "-> writer [2/2]")
}

func TestRunCommandDirectAndRouted(t *testing.T) {
	root := setupProject(t)
	out, err := run(t, "run", "--root", root, "--include-user=false", "--agent", "agent.reviewer", "check main.go")
	require.NoError(t, err)
	require.Equal(t, "check main.go\n", out)

	out, err = run(t, "run", "--root", root, "--include-user=false", "review the parser")
	require.NoError(t, err)
	require.Contains(t, out, "## reviewer\nreview the parser")
	require.Contains(t, out, "## writer\nreview the parser")

	_, err = run(t, "run", "--root", root, "--include-user=false", "hello")
	require.ErrorContains(t, err, "no subagent matched")

	_, err = run(t, "run", "--root", root, "--include-user=false", "--agent", "reviwer", "x")
	require.ErrorContains(t, err, `did you mean "reviewer"`)
}

func TestValidateCommand(t *testing.T) {
	root := setupProject(t)
	out, err := run(t, "validate", "--root", root, "--include-user=false")
	require.NoError(t, err)
	require.Contains(t, out, "2 subagent definition(s) valid")

	bad := filepath.Join(root, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: \"1\"\nsubagent:\n  name: Bad Name\n"), 0o600))
	out, err = run(t, "validate", bad, filepath.Join(root, ".claude", "agents", "writer.yaml"))
	require.Error(t, err)
	require.Contains(t, out, "FAIL "+bad)
	require.Contains(t, out, "ok   writer")
}

func TestUnknownProviderNeedsKey(t *testing.T) {
	root := setupProject(t)
	t.Setenv("OPENAI_API_KEY", "")
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	t.Setenv("SUBAGENTS_MODEL_PROVIDER", "openai")
	cmd.SetArgs([]string{"list", "--root", root, "--include-user=false"})
	require.ErrorContains(t, cmd.Execute(), "OPENAI_API_KEY")
}
