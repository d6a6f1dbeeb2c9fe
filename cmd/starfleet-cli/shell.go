package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/storage"
	"github.com/spf13/cobra"
)

var errUnbalancedQuotes = errors.New("непарные кавычки")

func (a *app) shellCmd() *cobra.Command {
	var noSave bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Интерактивная оболочка поверх работающего движка",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			eng, err := a.startShellEngine(ctx)
			if err != nil {
				return err
			}

			done := make(chan error, 1)
			go func() { done <- eng.Run(ctx) }()

			if err := a.runShell(ctx); err != nil {
				return err
			}

			cancel()
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if noSave {
				return nil
			}
			info, err := eng.Save(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "💾 Снимок %s сохранён: %d систем, %d сущностей\n", info.Key, info.Systems, info.Entities)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSave, "no-save", false, "не сохранять галактику при выходе")
	return cmd
}

// startShellEngine поднимает движок из снимка или с пустой галактикой
func (a *app) startShellEngine(ctx context.Context) (*engine.Engine, error) {
	opts, err := a.engineOptions()
	if err != nil {
		return nil, err
	}
	g, err := galaxy.New(galaxy.ConfigFrom(config.Default().Galaxy))
	if err != nil {
		return nil, err
	}

	eng := engine.New(g, engine.NewSchedule().Add("stats", engine.StatsReporter(1000)), opts...)
	if _, err := eng.Load(ctx); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		fmt.Fprintln(a.out, styleMuted.Render("снимка нет, начинаем с пустой галактики"))
	}

	a.engine = eng
	a.shell = true
	return eng, nil
}

// runShell читает команды построчно до exit или конца ввода
func (a *app) runShell(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)
	for {
		fmt.Fprint(a.out, stylePrompt.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}

		words, err := splitWords(scanner.Text())
		if err != nil {
			a.printError(fmt.Errorf("ошибка разбора команды: %w", err))
			continue
		}
		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "exit", "quit":
			return nil
		}

		root := a.rootCmd()
		root.SetArgs(words)
		if err := root.ExecuteContext(ctx); err != nil {
			a.printError(err)
		}
	}
}

func (a *app) printError(err error) {
	fmt.Fprintln(a.out, styleError.Render("Ошибка: "+err.Error()))
}

// splitWords делит строку по пробелам; двойные кавычки объединяют слова
func splitWords(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inQuote bool
		hasWord bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasWord = true
		case !inQuote && (r == ' ' || r == '\t'):
			if hasWord {
				words = append(words, current.String())
				current.Reset()
				hasWord = false
			}
		default:
			current.WriteRune(r)
			hasWord = true
		}
	}
	if inQuote {
		return nil, errUnbalancedQuotes
	}
	if hasWord {
		words = append(words, current.String())
	}
	return words, nil
}
