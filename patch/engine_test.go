package patch

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

const target = "/opt/driver/AltA2DP.sys"

var scenarioBuf = []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}

func TestEngine_Apply_ScenarioA(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))

	res := engine.Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	})
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	if res.MatchOffset != 1 || res.PatchOffset != 2 {
		t.Fatalf("expected match 1 and patch 2 - got %d and %d", res.MatchOffset, res.PatchOffset)
	}

	if !bytes.Equal(res.Original, []byte{0xcc}) {
		t.Fatalf("expected original 0xcc - got 0x%x", res.Original)
	}

	checkFile(t, fsys, target, []byte{0xaa, 0xbb, 0xff, 0xdd, 0xee})
	checkFile(t, fsys, target+DefaultBackupSuffix, scenarioBuf)
}

func TestEngine_Apply_ScenarioB(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))

	res := engine.Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xcc},
	})
	if res.Outcome != AlreadyPatched {
		t.Fatalf("expected %s - got %s", AlreadyPatched, res)
	}

	checkFile(t, fsys, target, scenarioBuf)
	checkFile(t, fsys, target+DefaultBackupSuffix, scenarioBuf)
}

func TestEngine_Apply_ScenarioC(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))

	res := engine.Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "11 22 33",
		Replacement: []byte{0x90},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, ErrSignatureNotFound) {
		t.Fatalf("expected ErrSignatureNotFound - got %s", res)
	}

	if res.MatchOffset != -1 || res.PatchOffset != -1 {
		t.Fatalf("expected unknown offsets - got %d and %d", res.MatchOffset, res.PatchOffset)
	}

	checkNotExist(t, fsys, target+DefaultBackupSuffix)
	checkFile(t, fsys, target, scenarioBuf)
}

func TestEngine_Apply_SecondAttemptAsksDecider(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	var events []BackupFound

	engine := newTestEngine(fsys, DeciderFunc(func(_ context.Context, event BackupFound) (Choice, error) {
		events = append(events, event)

		return Skip, nil
	}))

	spec := Spec{
		Name:        "driver",
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	}

	first := engine.Apply(context.Background(), spec)
	if first.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, first)
	}

	afterFirst := readFile(t, fsys, target)

	second := engine.Apply(context.Background(), spec)
	if second.Outcome != Skipped {
		t.Fatalf("expected %s - got %s", Skipped, second)
	}

	checkFile(t, fsys, target, afterFirst)

	exp := []BackupFound{{
		Name:       "driver",
		Path:       target,
		BackupPath: target + DefaultBackupSuffix,
	}}

	if diff := cmp.Diff(exp, events); diff != "" {
		t.Fatalf("unexpected decider events (-want +got):\n%s", diff)
	}
}

func TestEngine_Apply_IdempotentWithoutBackup(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))

	spec := Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	}

	first := engine.Apply(context.Background(), spec)
	if first.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, first)
	}

	afterFirst := readFile(t, fsys, target)

	// Without its backup, the target looks fresh, so the engine
	// must fall back on comparing the bytes.
	err := fsys.Remove(target + DefaultBackupSuffix)
	if err != nil {
		t.Fatal(err)
	}

	second := engine.Apply(context.Background(), spec)
	if second.Outcome != AlreadyPatched {
		t.Fatalf("expected %s - got %s", AlreadyPatched, second)
	}

	checkFile(t, fsys, target, afterFirst)
}

func TestEngine_Apply_RestoreRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()

	original := []byte("\x90\x90\x33\xd2\x48\x8b\xcb\xe8\x11\x22\x33\x44\x83\xf8\x06\x74\x10\xc3")
	writeFile(t, fsys, target, original)

	engine := newTestEngine(fsys, choose(Restore))

	spec := Spec{
		Path:        target,
		Signature:   "33 D2 48 8B CB E8 ?? ?? ?? ?? 83 F8 06",
		Offset:      5,
		Replacement: []byte{0xb8, 0x06, 0x00, 0x00, 0x00},
	}

	res := engine.Apply(context.Background(), spec)
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	if !bytes.Equal(res.Original, []byte{0xe8, 0x11, 0x22, 0x33, 0x44}) {
		t.Fatalf("unexpected original bytes: 0x%x", res.Original)
	}

	checkFile(t, fsys, target, []byte("\x90\x90\x33\xd2\x48\x8b\xcb\xb8\x06\x00\x00\x00\x83\xf8\x06\x74\x10\xc3"))

	res = engine.Apply(context.Background(), spec)
	if res.Outcome != Restored {
		t.Fatalf("expected %s - got %s", Restored, res)
	}

	checkFile(t, fsys, target, original)

	// The backup is intentionally left behind after a restore.
	checkFile(t, fsys, target+DefaultBackupSuffix, original)
}

func TestEngine_Apply_Abort(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, []byte{0x01})
	writeFile(t, fsys, target+DefaultBackupSuffix, []byte{0x02})

	res := newTestEngine(fsys, choose(Abort)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "01",
		Replacement: []byte{0x03},
	})
	if res.Outcome != Aborted || res.Err != nil {
		t.Fatalf("expected %s without error - got %s", Aborted, res)
	}

	checkFile(t, fsys, target, []byte{0x01})
}

func TestEngine_Apply_DeciderError(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, []byte{0x01})
	writeFile(t, fsys, target+DefaultBackupSuffix, []byte{0x02})

	expErr := errors.New("stdin closed")

	res := newTestEngine(fsys, DeciderFunc(func(context.Context, BackupFound) (Choice, error) {
		return Abort, expErr
	})).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "01",
		Replacement: []byte{0x03},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, expErr) {
		t.Fatalf("expected decider error - got %s", res)
	}
}

func TestEngine_Apply_BackupWithoutTarget(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target+DefaultBackupSuffix, scenarioBuf)

	res := newTestEngine(fsys, choose(Restore)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "not a signature",
		Replacement: []byte{0x03},
	})
	if res.Outcome != Restored {
		t.Fatalf("expected %s - got %s", Restored, res)
	}

	checkFile(t, fsys, target, scenarioBuf)
}

func TestEngine_Apply_NotFound(t *testing.T) {
	fsys := afero.NewMemMapFs()

	res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "01",
		Replacement: []byte{0x03},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound - got %s", res)
	}

	checkNotExist(t, fsys, target+DefaultBackupSuffix)
}

func TestEngine_Apply_MalformedSignature(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	for _, sig := range []string{"", "BB ?? D", "BB XX"} {
		res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
			Path:        target,
			Signature:   sig,
			Replacement: []byte{0x03},
		})
		if res.Outcome != Failed || !errors.Is(res.Err, ErrMalformedSignature) {
			t.Fatalf("%q: expected ErrMalformedSignature - got %s", sig, res)
		}

		checkNotExist(t, fsys, target+DefaultBackupSuffix)
	}
}

func TestEngine_Apply_OutOfBounds(t *testing.T) {
	for _, tc := range []struct {
		name        string
		offset      int
		replacement []byte
	}{
		{name: "OffsetPastEnd", offset: 10, replacement: []byte{0x90}},
		{name: "ReplacementPastEnd", offset: 3, replacement: []byte{0x90, 0x90, 0x90}},
		{name: "OffsetAtEnd", offset: 4, replacement: []byte{0x90}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeFile(t, fsys, target, scenarioBuf)

			res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
				Path:        target,
				Signature:   "BB",
				Offset:      tc.offset,
				Replacement: tc.replacement,
			})
			if res.Outcome != Failed || !errors.Is(res.Err, ErrOutOfBounds) {
				t.Fatalf("expected ErrOutOfBounds - got %s", res)
			}

			checkFile(t, fsys, target, scenarioBuf)
		})
	}
}

func TestEngine_Apply_ReplacementEndsAtEOF(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB",
		Offset:      2,
		Replacement: []byte{0x01, 0x02},
	})
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	checkFile(t, fsys, target, []byte{0xaa, 0xbb, 0xcc, 0x01, 0x02})
}

func TestEngine_Apply_InvalidSpec(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))

	for _, spec := range []Spec{
		{Signature: "BB", Replacement: []byte{0x01}},
		{Path: target, Signature: "BB", Offset: -1, Replacement: []byte{0x01}},
		{Path: target, Signature: "BB"},
	} {
		res := engine.Apply(context.Background(), spec)
		if res.Outcome != Failed || !errors.Is(res.Err, ErrInvalidSpec) {
			t.Fatalf("expected ErrInvalidSpec - got %s", res)
		}
	}

	checkNotExist(t, fsys, target+DefaultBackupSuffix)
}

func TestEngine_Apply_BackupError(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, target, scenarioBuf)

	fsys := &faultyFs{
		Fs:       mem,
		failPath: target + DefaultBackupSuffix,
		failErr:  errors.New("no space left on device"),
		failures: 1,
	}

	res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, ErrBackup) {
		t.Fatalf("expected ErrBackup - got %s", res)
	}

	checkFile(t, mem, target, scenarioBuf)
	checkNotExist(t, mem, target+DefaultBackupSuffix)
}

func TestEngine_Apply_WritePermissionRestoresBackup(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, target, scenarioBuf)

	fsys := &faultyFs{
		Fs:       mem,
		failPath: target,
		failErr:  fs.ErrPermission,
		failures: 1,
		truncate: true,
	}

	res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, ErrWritePermission) {
		t.Fatalf("expected ErrWritePermission - got %s", res)
	}

	if errors.Is(res.Err, ErrRestore) {
		t.Fatalf("restore should have succeeded - got %s", res.Err)
	}

	checkFile(t, mem, target, scenarioBuf)
	checkFile(t, mem, target+DefaultBackupSuffix, scenarioBuf)
}

func TestEngine_Apply_WritePermissionRestoreFails(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, target, scenarioBuf)

	fsys := &faultyFs{
		Fs:       mem,
		failPath: target,
		failErr:  fs.ErrPermission,
		failures: 2,
	}

	res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	})
	if !errors.Is(res.Err, ErrWritePermission) || !errors.Is(res.Err, ErrRestore) {
		t.Fatalf("expected ErrWritePermission and ErrRestore - got %s", res)
	}
}

func TestEngine_Apply_WriteErrorDoesNotRestore(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, target, scenarioBuf)

	fsys := &faultyFs{
		Fs:       mem,
		failPath: target,
		failErr:  errors.New("input/output error"),
		failures: 1,
		truncate: true,
	}

	res := newTestEngine(fsys, failDecider(t)).Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "BB ?? DD",
		Offset:      1,
		Replacement: []byte{0xff},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, ErrWrite) {
		t.Fatalf("expected ErrWrite - got %s", res)
	}

	if errors.Is(res.Err, ErrWritePermission) {
		t.Fatalf("generic write errors must not be classified as permission errors")
	}

	// The target is left in whatever state the failed write left it.
	checkFile(t, mem, target, []byte{})
	checkFile(t, mem, target+DefaultBackupSuffix, scenarioBuf)
}

func TestEngine_Apply_CanceledContext(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestEngine(fsys, failDecider(t)).Apply(ctx, Spec{
		Path:        target,
		Signature:   "BB",
		Replacement: []byte{0x01},
	})
	if res.Outcome != Failed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled - got %s", res)
	}

	checkNotExist(t, fsys, target+DefaultBackupSuffix)
}

func TestEngine_Apply_CustomBackupSuffix(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))
	engine.BackupSuffix = ".orig"

	res := engine.Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "CC",
		Replacement: []byte{0x00},
	})
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	checkFile(t, fsys, target+".orig", scenarioBuf)
	checkNotExist(t, fsys, target+DefaultBackupSuffix)
}

func TestEngine_Apply_PreviewAndVerbose(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	logs := bytes.NewBuffer(nil)
	verbose := bytes.NewBuffer(nil)

	previewer := &stubPreviewer{lines: []string{"- jg", "+ jle"}}

	engine := newTestEngine(fsys, failDecider(t))
	engine.OptLogger = log.New(logs, "", 0)
	engine.OptVerbose = log.New(verbose, "", 0)
	engine.OptPreviewer = previewer

	res := engine.Apply(context.Background(), Spec{
		Path:        target,
		Signature:   "DD",
		Replacement: []byte{0x7e},
	})
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	if !bytes.Equal(previewer.before, []byte{0xdd, 0xee}) || !bytes.Equal(previewer.after, []byte{0x7e, 0xee}) {
		t.Fatalf("unexpected preview input: 0x%x -> 0x%x", previewer.before, previewer.after)
	}

	if previewer.n != 1 {
		t.Fatalf("expected a 1 byte patch region - got %d", previewer.n)
	}

	for _, exp := range []string{"signature found at offset: 0x3", "original bytes at 0x3: DD", "- jg\n+ jle\n"} {
		if !strings.Contains(logs.String(), exp) {
			t.Fatalf("expected logs to contain %q - got:\n%s", exp, logs.String())
		}
	}

	for _, exp := range []string{"patch.buffer: wrote at 0x3", "-00000000  aa bb cc dd ee", "+00000000  aa bb cc 7e ee"} {
		if !strings.Contains(verbose.String(), exp) {
			t.Fatalf("expected verbose logs to contain %q - got:\n%s", exp, verbose.String())
		}
	}
}

func TestEngine_Apply_PreviewErrorIsIgnored(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, target, scenarioBuf)

	engine := newTestEngine(fsys, failDecider(t))
	engine.OptPreviewer = &stubPreviewer{err: errors.New("bad instruction")}

	specPreviewer := &stubPreviewer{err: errors.New("bad instruction")}

	res := engine.Apply(context.Background(), Spec{
		Path:         target,
		Signature:    "DD",
		Replacement:  []byte{0x7e},
		OptPreviewer: specPreviewer,
	})
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	if specPreviewer.before == nil {
		t.Fatal("the Spec's own previewer should take precedence")
	}
}

func TestEngine_Apply_OSFilesystem(t *testing.T) {
	dir := t.TempDir()

	targetPath := filepath.Join(dir, "AltA2dpConfig.exe")

	err := os.WriteFile(targetPath, []byte("\x00\x3b\xc8\x7d\x2d\x41\x83\xf9\x07\x7f\x00"), 0o755)
	if err != nil {
		t.Fatal(err)
	}

	engine := &Engine{Decider: choose(Skip)}

	spec, err := NewSpec(targetPath, "3B C8 7D 2D 41 83 F9 07 7F", "7E", 8)
	if err != nil {
		t.Fatal(err)
	}

	res := engine.Apply(context.Background(), spec)
	if res.Outcome != Patched {
		t.Fatalf("expected %s - got %s", Patched, res)
	}

	patched, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(patched, []byte("\x00\x3b\xc8\x7d\x2d\x41\x83\xf9\x07\x7e\x00")) {
		t.Fatalf("unexpected patched data: 0x%x", patched)
	}

	info, err := os.Stat(targetPath + DefaultBackupSuffix)
	if err != nil {
		t.Fatal(err)
	}

	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected backup to keep the executable bit - got %s", info.Mode())
	}
}

func TestNewSpec(t *testing.T) {
	spec, err := NewSpec("Driver/AltA2DP.sys", "33 D2", "B8 06 00 00 00", 5)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(spec.Replacement, []byte{0xb8, 0x06, 0x00, 0x00, 0x00}) {
		t.Fatalf("unexpected replacement: 0x%x", spec.Replacement)
	}

	if spec.DisplayName() != "AltA2DP.sys" {
		t.Fatalf("expected 'AltA2DP.sys' - got '%s'", spec.DisplayName())
	}

	_, err = NewSpec("x", "33", "B8 0", 0)
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec - got %v", err)
	}
}

func newTestEngine(fsys afero.Fs, decider Decider) *Engine {
	return &Engine{
		Fs:      fsys,
		Decider: decider,
	}
}

func choose(choice Choice) Decider {
	return DeciderFunc(func(context.Context, BackupFound) (Choice, error) {
		return choice, nil
	})
}

func failDecider(t *testing.T) Decider {
	return DeciderFunc(func(_ context.Context, event BackupFound) (Choice, error) {
		t.Errorf("decider should not be called - got %+v", event)

		return Abort, nil
	})
}

type stubPreviewer struct {
	lines  []string
	err    error
	before []byte
	after  []byte
	n      int
}

func (o *stubPreviewer) Preview(before []byte, after []byte, n int) ([]string, error) {
	o.before = before
	o.after = after
	o.n = n

	return o.lines, o.err
}

// faultyFs fails the next failures attempts to open failPath for
// writing. When truncate is set, the file is emptied first to
// simulate a write that failed part way through.
type faultyFs struct {
	afero.Fs
	failPath string
	failErr  error
	failures int
	truncate bool
}

func (o *faultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == o.failPath && flag&(os.O_WRONLY|os.O_RDWR) != 0 && o.failures > 0 {
		o.failures--

		if o.truncate {
			err := afero.WriteFile(o.Fs, name, nil, perm)
			if err != nil {
				return nil, err
			}
		}

		return nil, &fs.PathError{Op: "open", Path: name, Err: o.failErr}
	}

	return o.Fs.OpenFile(name, flag, perm)
}

func writeFile(t *testing.T, fsys afero.Fs, path string, data []byte) {
	t.Helper()

	err := afero.WriteFile(fsys, path, data, 0o644)
	if err != nil {
		t.Fatalf("failed to write %s - %s", path, err)
	}
}

func readFile(t *testing.T, fsys afero.Fs, path string) []byte {
	t.Helper()

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("failed to read %s - %s", path, err)
	}

	return data
}

func checkFile(t *testing.T, fsys afero.Fs, path string, exp []byte) {
	t.Helper()

	res := readFile(t, fsys, path)
	if !bytes.Equal(res, exp) {
		t.Fatalf("expected %s to contain 0x%x - got 0x%x", path, exp, res)
	}
}

func checkNotExist(t *testing.T, fsys afero.Fs, path string) {
	t.Helper()

	exists, err := afero.Exists(fsys, path)
	if err != nil {
		t.Fatal(err)
	}

	if exists {
		t.Fatalf("expected %s to not exist", path)
	}
}
