package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CodexExecutor shells out to the codex CLI.
type CodexExecutor struct {
	// Command is the codex binary; defaults to "codex".
	Command string
	Env     map[string]string
}

func (a *CodexExecutor) Name() string {
	return "codex"
}

func (a *CodexExecutor) Run(ctx context.Context, req Request) (*Response, error) {
	if req.WorkDir == "" {
		return nil, errors.New("workdir is required")
	}
	if req.ArtifactsDir == "" {
		return nil, errors.New("artifacts dir is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	workDir, err := filepath.Abs(req.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}
	workDirInfo, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("stat workdir: %w", err)
	}
	if !workDirInfo.IsDir() {
		return nil, fmt.Errorf("workdir is not a directory: %s", workDir)
	}

	artifactsDir, err := filepath.Abs(req.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	promptPath := filepath.Join(artifactsDir, "prompt.md")
	if err := os.WriteFile(promptPath, []byte(req.Prompt), 0o644); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}

	transcriptPath := filepath.Join(artifactsDir, "transcript.jsonl")
	transcriptFile, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() {
		_ = transcriptFile.Close()
	}()

	lastMessagePath := filepath.Join(artifactsDir, "last_message.json")
	args := []string{
		"-a", "never",
		"-s", "workspace-write",
		"exec",
		"--json",
		"-C", workDir,
		"--output-last-message", lastMessagePath,
	}
	if req.OutputSchema != "" {
		schemaPath := filepath.Join(artifactsDir, "output.schema.json")
		if err := os.WriteFile(schemaPath, []byte(req.OutputSchema), 0o644); err != nil {
			return nil, fmt.Errorf("write output schema: %w", err)
		}
		args = append(args, "--output-schema", schemaPath)
	}
	if req.Fingerprint.Model != "" {
		args = append(args, "-m", req.Fingerprint.Model)
	}
	if req.Fingerprint.Reasoning != "" {
		args = append(args, "-c", "model_reasoning_effort="+req.Fingerprint.Reasoning)
	}
	if req.Session.Active() {
		args = append(args, "resume", req.Session.Handle())
	}
	args = append(args, "-")

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	command := a.Command
	if command == "" {
		command = "codex"
	}
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stderr = transcriptFile
	cmd.Env = mergeEnv(os.Environ(), a.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start codex: %w", err)
	}

	threadID := consumeEvents(stdout, transcriptFile, req.OnEvent)
	runErr := cmd.Wait()

	resp := &Response{TranscriptPath: transcriptPath}
	if threadID == "" && req.Session.Active() {
		threadID = req.Session.Handle()
	}
	resp.Session = NewSession(threadID, req.Fingerprint)

	if data, err := os.ReadFile(lastMessagePath); err == nil {
		resp.RawText = string(data)
		if trimmed := bytes.TrimSpace(data); json.Valid(trimmed) {
			resp.Structured = json.RawMessage(trimmed)
		}
	}

	if runErr != nil {
		resp.ExitCode = exitCodeFromError(runErr)
		return resp, fmt.Errorf("codex exited with code %d (see %s): %w", resp.ExitCode, transcriptPath, runErr)
	}
	return resp, nil
}

// consumeEvents copies the JSONL event stream to the transcript, forwards each event, and
// returns the conversation thread id if one was announced.
func consumeEvents(r io.Reader, transcript io.Writer, onEvent func(Event)) string {
	var threadID string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		_, _ = transcript.Write(line)
		_, _ = transcript.Write([]byte("\n"))

		var header struct {
			Type     string `json:"type"`
			ThreadID string `json:"thread_id"`
		}
		if err := json.Unmarshal(line, &header); err != nil {
			continue
		}
		if header.ThreadID != "" && threadID == "" {
			threadID = header.ThreadID
		}
		if onEvent != nil {
			raw := make(json.RawMessage, len(line))
			copy(raw, line)
			onEvent(Event{Type: header.Type, Raw: raw})
		}
	}
	return threadID
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key := entry
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key = entry[:idx]
		}
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range overrides {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}
	return merged
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}
