package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"cmdbridge/internal/core"
	"cmdbridge/internal/transports/common"
)

// Runtime — собранное приложение, которым пользуется CLI.
type Runtime interface {
	Service() *common.Service
	Serve(ctx context.Context) error
	Close() error
}

// Loader строит Runtime по пути к конфигу.
type Loader func(ctx context.Context, configPath string) (Runtime, error)

var errCommandFailed = errors.New("command failed")

type options struct {
	configPath string
	subject    string
	output     string
}

// New создает корневую CLI-команду.
func New(load Loader, version string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "cmdbridge",
		Short:         "Мост именованных команд",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "путь к YAML-конфигу")
	root.PersistentFlags().StringVar(&opts.subject, "subject", defaultSubject(), "идентификатор вызывающего для authz и аудита")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "формат вывода: text или json")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newInvokeCmd(load, opts))
	root.AddCommand(newCommandsCmd(load, opts))
	root.AddCommand(newShellCmd(load, opts))
	root.AddCommand(newServeCmd(load, opts))
	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
		},
	}
}

func newInvokeCmd(load Loader, opts *options) *cobra.Command {
	var rawJSON string
	cmd := &cobra.Command{
		Use:   "invoke <command> [args...]",
		Short: "Вызвать команду",
		Example: `  cmdbridge invoke custom-greeting world
  cmdbridge invoke run-process echo hello
  cmdbridge invoke run-process ls -d /
  cmdbridge invoke --json '{"guess": 42}' guess-number`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := rt.Service()
			var resp core.Response
			if rawJSON != "" {
				if len(args) > 1 {
					return errors.New("positional arguments and --json are mutually exclusive")
				}
				resp, _ = svc.Execute(cmd.Context(), opts.subject, args[0], json.RawMessage(rawJSON))
			} else {
				resp, _ = svc.ExecuteTokens(cmd.Context(), opts.subject, args[0], args[1:])
			}
			if err := render(cmd.OutOrStdout(), opts.output, resp); err != nil {
				return err
			}
			if resp.Failed() {
				return fmt.Errorf("%s: %s: %w", resp.ErrorCode, resp.Message, errCommandFailed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawJSON, "json", "", "аргументы JSON-объектом")
	// Токены после имени команды, включая "-d", передаются ей как есть.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newCommandsCmd(load Loader, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Список команд и их аргументов",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			list := rt.Service().Registry.Commands()
			if opts.output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			for _, info := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info.Name, usage(info.Params))
			}
			return nil
		},
	}
}

func newShellCmd(load Loader, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Интерактивный режим: одна команда на строку",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runShell(cmd.Context(), rt.Service(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runShell(ctx context.Context, svc *common.Service, opts *options, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		resp, _ := svc.ExecuteText(ctx, opts.subject, line)
		if err := render(out, opts.output, resp); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func newServeCmd(load Loader, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить сетевые транспорты и планировщик",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// render печатает ответ: text выводит полезную нагрузку как есть, json — конверт целиком.
func render(w io.Writer, format string, resp core.Response) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(resp)
	}
	if resp.Failed() {
		_, err := fmt.Fprintf(w, "error [%s]: %s\n", resp.ErrorCode, resp.Message)
		return err
	}
	switch v := resp.Data.(type) {
	case nil:
		return nil
	case string:
		if _, err := io.WriteString(w, v); err != nil {
			return err
		}
		if !strings.HasSuffix(v, "\n") {
			_, err := io.WriteString(w, "\n")
			return err
		}
		return nil
	case []byte:
		_, err := w.Write(v)
		return err
	default:
		return json.NewEncoder(w).Encode(v)
	}
}

func usage(params []core.Param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name + ":" + p.Kind.String()
		if p.Optional {
			s = "[" + s + "]"
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func defaultSubject() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
