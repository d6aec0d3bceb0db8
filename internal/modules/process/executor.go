// Package process запускает внешние программы и возвращает их stdout текстом.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	gprocess "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// killGrace ограничивает ожидание stdout после принудительного завершения.
const killGrace = time.Second

var (
	ErrEmptyProgram = errors.New("program is empty")
	ErrNotAllowed   = errors.New("program is not allowed")
	ErrDecode       = errors.New("decode error")
	ErrTimeout      = errors.New("process timed out")
)

// SpawnError — ОС не смогла запустить программу (нет файла, нет прав и т.п.).
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string { return e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// Spec описывает запуск: программа и аргументы без интерпретации оболочкой.
type Spec struct {
	Program string
	Args    []string
}

// Decoder переводит сырой stdout в текст или возвращает ErrDecode.
type Decoder func(raw []byte) (string, error)

// NewDecoder возвращает строгий декодер для метки кодировки WHATWG ("utf-8", "gbk", ...).
func NewDecoder(label string) (Decoder, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "utf-8"
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("output encoding %q: %w", label, err)
	}
	if enc == unicode.UTF8 {
		return decodeUTF8, nil
	}
	return func(raw []byte) (string, error) {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		// Декодеры x/text заменяют битые последовательности на U+FFFD вместо ошибки.
		if bytes.ContainsRune(out, '\uFFFD') {
			return "", ErrDecode
		}
		return string(out), nil
	}, nil
}

func decodeUTF8(raw []byte) (string, error) {
	out, _, err := transform.Bytes(encoding.UTF8Validator, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(out), nil
}

// Options задает поведение Executor.
type Options struct {
	// Timeout ограничивает запуск целиком; 0 — без ограничения.
	Timeout time.Duration
	// Encoding — ожидаемая кодировка stdout.
	Encoding string
	// Allowlist — разрешенные программы; пустой список разрешает любую.
	Allowlist []string
	Logger    *slog.Logger
}

// Executor запускает один процесс на вызов и ждет его завершения.
type Executor struct {
	timeout time.Duration
	decode  Decoder
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewExecutor создает исполнитель процессов.
func NewExecutor(opts Options) (*Executor, error) {
	dec, err := NewDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("negative timeout %s", opts.Timeout)
	}
	var allowed map[string]struct{}
	for _, p := range opts.Allowlist {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if allowed == nil {
			allowed = make(map[string]struct{})
		}
		allowed[p] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{timeout: opts.Timeout, decode: dec, allowed: allowed, logger: logger}, nil
}

// Allowed сообщает, можно ли запускать программу.
func (e *Executor) Allowed(program string) bool {
	if e.allowed == nil {
		return true
	}
	_, ok := e.allowed[program]
	return ok
}

// Run запускает spec, ждет выхода и возвращает stdout текстом.
// Вывод читается до EOF, то есть пока пишут и потомки процесса.
// После возврата в группе процесса не остается живых потомков.
// Код выхода и stderr вызывающему не передаются.
func (e *Executor) Run(ctx context.Context, spec Spec) (string, error) {
	if spec.Program == "" {
		return "", &SpawnError{Program: spec.Program, Err: ErrEmptyProgram}
	}
	if !e.Allowed(spec.Program) {
		return "", fmt.Errorf("%s: %w", spec.Program, ErrNotAllowed)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		treeErr := killTree(cmd.Process.Pid)
		if err := killGroup(cmd.Process.Pid); err != nil {
			return err
		}
		return treeErr
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &SpawnError{Program: spec.Program, Err: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", &SpawnError{Program: spec.Program, Err: err}
	}
	pid := cmd.Process.Pid
	defer func() { _ = killGroup(pid) }()

	out, readErr := e.readAll(ctx, stdout)
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		e.logger.Warn("process interrupted", "program", spec.Program, "err", ctxErr, "duration_ms", elapsed.Milliseconds())
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s after %s: %w", spec.Program, e.timeout, ErrTimeout)
		}
		return "", ctxErr
	}
	if readErr != nil {
		return "", fmt.Errorf("read stdout of %s: %w", spec.Program, readErr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		// Ненулевой код выхода не считается отказом вызова.
		e.logger.Debug("process exited with non-zero status", "program", spec.Program, "code", exitErr.ExitCode())
	default:
		return "", fmt.Errorf("wait %s: %w", spec.Program, waitErr)
	}
	e.logger.Debug("process finished", "program", spec.Program, "bytes", len(out), "duration_ms", elapsed.Milliseconds())

	return e.decode(out)
}

// readAll читает stdout до EOF. После отмены ctx процесс уже убит через
// cmd.Cancel; если канал держит процесс вне группы, чтение обрывается
// через killGrace.
func (e *Executor) readAll(ctx context.Context, stdout io.ReadCloser) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(stdout)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
	}
	select {
	case r := <-done:
		return r.data, r.err
	case <-time.After(killGrace):
		_ = stdout.Close()
		r := <-done
		return r.data, r.err
	}
}

// killTree завершает процесс вместе с потомками, начиная с листьев.
func killTree(pid int) error {
	p, err := gprocess.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return killProcess(p)
}

func killProcess(p *gprocess.Process) error {
	children, _ := p.Children()
	for _, c := range children {
		_ = killProcess(c)
	}
	return p.Kill()
}
