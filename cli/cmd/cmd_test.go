package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/capture"
	"github.com/pithecene-io/espterm/devicesim"
	"github.com/pithecene-io/espterm/protocol"
	"github.com/pithecene-io/espterm/transfer"
	"github.com/pithecene-io/espterm/transport"
	"github.com/pithecene-io/espterm/types"
)

type runResult struct {
	stdout string
	stderr string
	err    error
}

// run executes the CLI in-process. The working directory is a fresh temp
// dir so no stray espterm.yaml is picked up.
func run(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp("test")
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.RunContext(t.Context(), append([]string{"espterm"}, args...))
	return runResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func code(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func inTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestVersion(t *testing.T) {
	inTemp(t)
	res := run(t, "", "version", "--format", "json")
	if res.err != nil {
		t.Fatalf("version error = %v", res.err)
	}
	var v VersionResponse
	if err := json.Unmarshal([]byte(res.stdout), &v); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, res.stdout)
	}
	if v.Version != types.Version || v.Commit != "test" || v.CaptureVersion != types.CaptureVersion {
		t.Errorf("version = %+v", v)
	}
}

func TestList_Sim(t *testing.T) {
	inTemp(t)
	res := run(t, "", "--port", devicesim.Scheme, "ls", "--format", "json")
	if res.err != nil {
		t.Fatalf("ls error = %v (stderr %s)", res.err, res.stderr)
	}
	var files []types.FileEntry
	if err := json.Unmarshal([]byte(res.stdout), &files); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, res.stdout)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	if strings.Join(names, ",") != "boot.log,config.json" {
		t.Errorf("files = %v", names)
	}
}

func TestPutGetExec_Sim(t *testing.T) {
	dir := inTemp(t)
	local := filepath.Join(dir, "app.bin")
	payload := bytes.Repeat([]byte("espterm"), 400)
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	res := run(t, "", "--port", devicesim.Scheme, "put", "--format", "json", local, "app.bin")
	if res.err != nil {
		t.Fatalf("put error = %v (stderr %s)", res.err, res.stderr)
	}
	var put transfer.Result
	if err := json.Unmarshal([]byte(res.stdout), &put); err != nil {
		t.Fatalf("put output: %v\n%s", err, res.stdout)
	}
	if !put.Response.OK || put.Size != int64(len(payload)) || put.Remote != "app.bin" {
		t.Errorf("put result = %+v", put)
	}

	res = run(t, "", "--port", devicesim.Scheme, "get", "--format", "json", "config.json", "out.json")
	if res.err != nil {
		t.Fatalf("get error = %v (stderr %s)", res.err, res.stderr)
	}
	got, err := os.ReadFile(filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatal(err)
	}
	if want := devicesim.Demo().Files["config.json"]; !bytes.Equal(got, want) {
		t.Errorf("downloaded = %q, want %q", got, want)
	}

	res = run(t, "", "--port", devicesim.Scheme, "get", "config.json", "-")
	if res.err != nil {
		t.Fatalf("get - error = %v", res.err)
	}
	if res.stdout != string(devicesim.Demo().Files["config.json"]) {
		t.Errorf("stdout = %q", res.stdout)
	}

	res = run(t, "", "--port", devicesim.Scheme, "exec", "--format", "json", "echo", "hello", "world")
	if res.err != nil {
		t.Fatalf("exec error = %v", res.err)
	}
	var resp types.Response
	if err := json.Unmarshal([]byte(res.stdout), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.Payload != "hello world" {
		t.Errorf("exec response = %+v", resp)
	}
}

func TestExitCodes_Sim(t *testing.T) {
	dir := inTemp(t)
	local := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"rm missing file is refused", []string{"--port", devicesim.Scheme, "rm", "nope.txt"}, exitRefused},
		{"unknown command is refused", []string{"--port", devicesim.Scheme, "exec", "reboot-now"}, exitRefused},
		{"invalid remote name", []string{"--port", devicesim.Scheme, "put", local, "bad/name"}, exitValidation},
		{"missing local file", []string{"--port", devicesim.Scheme, "put", filepath.Join(dir, "missing")}, exitValidation},
		{"no port", []string{"ls"}, exitValidation},
		{"bad format", []string{"--port", devicesim.Scheme, "ls", "--format", "xml"}, exitValidation},
		{"missing args", []string{"--port", devicesim.Scheme, "get"}, exitValidation},
		{"get missing file", []string{"--port", devicesim.Scheme, "get", "nope.txt", "-"}, exitProtocol},
		{"bad log level", []string{"--log-level", "loud", "--port", devicesim.Scheme, "ls"}, exitValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, "", tt.args...)
			if got := code(res.err); got != tt.want {
				t.Errorf("exit code = %d (%v), want %d", got, res.err, tt.want)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	dir := inTemp(t)
	t.Setenv("ESPTERM_TEST_PORT", devicesim.Scheme)
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("port: ${ESPTERM_TEST_PORT}\nresponse_timeout: 2s\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := run(t, "", "--config", path, "ls", "--format", "json")
	if res.err != nil {
		t.Fatalf("ls with --config error = %v", res.err)
	}
	if !strings.Contains(res.stdout, "config.json") {
		t.Errorf("stdout = %q", res.stdout)
	}

	if err := os.WriteFile(filepath.Join(dir, "espterm.yaml"), []byte("port: "+devicesim.Scheme+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if res := run(t, "", "ls", "--format", "json"); res.err != nil {
		t.Errorf("ls with ./espterm.yaml error = %v", res.err)
	}

	res = run(t, "", "--config", filepath.Join(dir, "missing.yaml"), "ls")
	if code(res.err) != exitValidation {
		t.Errorf("missing config exit = %d (%v)", code(res.err), res.err)
	}
}

func TestArchive_Sim(t *testing.T) {
	dir := inTemp(t)
	cfg := fmt.Sprintf("port: %s\narchive:\n  backend: fs\n  path: %s\n", devicesim.Scheme, filepath.Join(dir, "arch"))
	if err := os.WriteFile("espterm.yaml", []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	if res := run(t, "", "get", "--archive", "config.json"); res.err != nil {
		t.Fatalf("get --archive error = %v (stderr %s)", res.err, res.stderr)
	}

	res := run(t, "", "archive", "ls", "--format", "json")
	if res.err != nil {
		t.Fatalf("archive ls error = %v", res.err)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(res.stdout), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0]["name"] != "config.json" || entries[0]["device"] != "sim" {
		t.Errorf("archive entries = %v", entries)
	}

	res = run(t, "", "archive", "journal", "--format", "json")
	if res.err != nil {
		t.Fatalf("archive journal error = %v", res.err)
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(res.stdout), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["filename"] != "config.json" || records[0]["ok"] != true {
		t.Errorf("journal = %v", records)
	}

	res = run(t, "", "archive", "restore", "--format", "json", "config.json", "restored.json")
	if res.err != nil {
		t.Fatalf("archive restore error = %v (stderr %s)", res.err, res.stderr)
	}
	if !strings.Contains(res.stdout, `"remote": "restored.json"`) {
		t.Errorf("restore output = %s", res.stdout)
	}
}

func TestArchive_NotConfigured(t *testing.T) {
	inTemp(t)
	res := run(t, "", "archive", "ls")
	if code(res.err) != exitValidation || !strings.Contains(res.err.Error(), "no archive configured") {
		t.Errorf("archive ls = %v", res.err)
	}
}

func TestReplay(t *testing.T) {
	dir := inTemp(t)
	path := filepath.Join(dir, "session.cap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := capture.NewWriter(f, capture.Header{SessionID: "s1", Port: "/dev/ttyUSB0", Baud: 115200})
	if err != nil {
		t.Fatal(err)
	}
	w.RecordRX([]byte("\x1b[0;32mI (10) app: st"))
	w.RecordRX([]byte("arted\x1b[0m\n!!TASKMONITOR!!\nmain 5%\n!!TASKMONITOREND!!\n"))
	w.RecordTX([]byte("$$$PING$$$\n"))
	w.RecordRX([]byte("tail without newline"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	res := run(t, "", "replay", "--no-color", "--tx", path)
	if res.err != nil {
		t.Fatalf("replay error = %v", res.err)
	}
	want := "I (10) app: started\n>> $$$PING$$$\ntail without newline\n"
	if res.stdout != want {
		t.Errorf("stdout = %q, want %q", res.stdout, want)
	}
	if !strings.Contains(res.stderr, "main 5%") {
		t.Errorf("stderr = %q, want the monitor block", res.stderr)
	}

	if res := run(t, "", "replay", filepath.Join(dir, "missing.cap")); code(res.err) != exitValidation {
		t.Errorf("replay of a missing file exit = %d", code(res.err))
	}
}

func TestConsole_Piped(t *testing.T) {
	inTemp(t)
	res := run(t, "echo hi\n\nuptime-bogus\n", "--port", devicesim.Scheme, "console", "--no-color")
	if res.err != nil {
		t.Fatalf("console error = %v", res.err)
	}
	if !strings.Contains(res.stdout, "hi\n") {
		t.Errorf("stdout = %q, want the echo reply", res.stdout)
	}
	if !strings.Contains(res.stdout, "refused: Unknown command: uptime-bogus") {
		t.Errorf("stdout = %q, want the refusal", res.stdout)
	}
}

func TestPorts(t *testing.T) {
	inTemp(t)
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })
	listPorts = func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil }

	res := run(t, "", "ports", "--format", "json")
	if res.err != nil {
		t.Fatal(res.err)
	}
	var ports []PortEntry
	if err := json.Unmarshal([]byte(res.stdout), &ports); err != nil {
		t.Fatal(err)
	}
	if len(ports) != 2 || ports[0].Name != "/dev/ttyUSB0" || ports[1].Kind != "simulator" {
		t.Errorf("ports = %+v", ports)
	}

	listPorts = func() ([]string, error) {
		return nil, &transport.Error{Op: "list ports", Err: errors.New("no permission")}
	}
	if res := run(t, "", "ports"); code(res.err) != exitTransport {
		t.Errorf("ports failure exit = %d", code(res.err))
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"refusal", refusal("rm x", types.Response{Payload: "File not found"}), exitRefused},
		{"validation", &protocol.Error{Kind: protocol.KindValidation, Op: "write"}, exitValidation},
		{"protocol", &protocol.Error{Kind: protocol.KindProtocol, Op: "read"}, exitProtocol},
		{"timeout", fmt.Errorf("wrapped: %w", &protocol.Error{Kind: protocol.KindTimeout, Op: "list"}), exitTimeout},
		{"transport via engine", &protocol.Error{Kind: protocol.KindTransport, Op: "write"}, exitTransport},
		{"transport", &transport.Error{Op: "open /dev/x", Err: errors.New("busy")}, exitTransport},
		{"usage", usageErr("bad"), exitValidation},
		{"local file", &os.PathError{Op: "stat", Path: "x", Err: os.ErrNotExist}, exitValidation},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
	if refusal("x", types.Response{OK: true}) != nil {
		t.Error("refusal() of an accepted response is not nil")
	}
}

func TestGlobalFlags(t *testing.T) {
	want := []string{"config", "port", "baud", "timeout", "log-level", "log-file", "stats"}
	flags := GlobalFlags()
	if len(flags) != len(want) {
		t.Fatalf("GlobalFlags() = %d flags, want %d", len(flags), len(want))
	}
	for i, f := range flags {
		if f.Names()[0] != want[i] {
			t.Errorf("flag %d = %q, want %q", i, f.Names()[0], want[i])
		}
	}
}

func TestStatsFlag(t *testing.T) {
	inTemp(t)
	res := run(t, "", "--stats", "--port", devicesim.Scheme, "ls", "--format", "json")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.Contains(res.stderr, "commands_sent:") {
		t.Errorf("stderr = %q, want the metrics snapshot", res.stderr)
	}
}
