package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/annel0/starfleet/internal/codec"
	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/gen"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/storage"
	"github.com/spf13/cobra"
)

// app состояние CLI. В режиме shell движок живёт между командами.
type app struct {
	in  io.Reader
	out io.Writer

	dataDir     string
	key         string
	codecName   string
	compression string

	store  storage.SnapshotStore
	engine *engine.Engine
	shell  bool
}

func newApp(in io.Reader, out io.Writer) *app {
	return &app{
		in:          in,
		out:         out,
		dataDir:     "data",
		key:         engine.DefaultSnapshotKey,
		codecName:   "json",
		compression: "zstd",
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "starfleet-cli",
		Short:         "Инструмент для работы со снимками галактики Starfleet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetIn(a.in)

	if !a.shell {
		pf := root.PersistentFlags()
		pf.StringVar(&a.dataDir, "data", a.dataDir, "каталог файлового хранилища снимков")
		pf.StringVar(&a.key, "key", a.key, "ключ снимка")
		pf.StringVar(&a.codecName, "codec", a.codecName, "формат снимка: json, yaml, bson, proto")
		pf.StringVar(&a.compression, "compression", a.compression, "сжатие: none, gzip, zstd")
	}

	root.AddCommand(
		a.generateCmd(),
		a.systemsCmd(),
		a.nearCmd(),
		a.entitiesCmd(),
		a.addCmd(),
		a.spawnCmd(),
		a.saveCmd(),
		a.inspectCmd(),
	)
	if !a.shell {
		root.AddCommand(a.shellCmd())
	}
	return root
}

func (a *app) openStore() (storage.SnapshotStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.NewFileStore(a.dataDir)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) engineOptions() ([]engine.Option, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	c, err := codec.ByName(a.codecName)
	if err != nil {
		return nil, err
	}
	comp, err := codec.CompressorByName(a.compression)
	if err != nil {
		return nil, err
	}
	return []engine.Option{engine.WithStore(store, a.key), engine.WithCodec(c, comp)}, nil
}

// loadEngine возвращает движок с галактикой из снимка
func (a *app) loadEngine(ctx context.Context) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	opts, err := a.engineOptions()
	if err != nil {
		return nil, err
	}
	g, err := galaxy.New(galaxy.ConfigFrom(config.Default().Galaxy))
	if err != nil {
		return nil, err
	}
	eng := engine.New(g, nil, opts...)
	if _, err := eng.Load(ctx); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("снимок %q не найден в %s, сначала выполните generate", a.key, a.dataDir)
		}
		return nil, err
	}
	a.engine = eng
	return eng, nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) generateCmd() *cobra.Command {
	cfg := config.Default().Galaxy
	var size float64

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Сгенерировать галактику и сохранить снимок",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size > 0 {
				cfg.Bounds = geom.R(0, 0, size, size)
			}
			g, err := galaxy.New(galaxy.ConfigFrom(cfg))
			if err != nil {
				return err
			}
			res, err := gen.FromConfig(cfg).Populate(g)
			if err != nil && !errors.Is(err, gen.ErrExhausted) {
				return err
			}

			opts, err := a.engineOptions()
			if err != nil {
				return err
			}
			info, err := engine.New(g, nil, opts...).Save(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleTitle.Render("🌌 Сгенерировано:"), res)
			fmt.Fprintf(cmd.OutOrStdout(), "💾 Снимок %s: %d байт (%s+%s)\n", info.Key, info.Bytes, info.Codec, info.Compression)

			if a.engine != nil {
				// в shell подхватываем новую галактику
				_, err = a.engine.Load(cmd.Context())
			}
			return err
		},
	}

	f := cmd.Flags()
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "зерно генератора")
	f.IntVar(&cfg.Systems, "systems", cfg.Systems, "число систем")
	f.IntVar(&cfg.EntitiesPerSystem, "entities", cfg.EntitiesPerSystem, "сущностей на систему")
	f.StringVar(&cfg.NamePrefix, "prefix", cfg.NamePrefix, "префикс имён систем")
	f.Float64Var(&size, "size", 0, "сторона квадрата галактики (0 - из конфигурации по умолчанию)")
	return cmd
}

func (a *app) systemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "systems",
		Short: "Список систем",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			return eng.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
				printSystems(cmd.OutOrStdout(), g.Systems())
				return nil
			})
		},
	}
}

func (a *app) nearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "near <x> <y> <r>",
		Short: "Системы на расстоянии не больше r от точки",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseFloats(args)
			if err != nil {
				return err
			}
			eng, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			return eng.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
				printSystems(cmd.OutOrStdout(), g.SystemsNear(geom.Pt(vals[0], vals[1]), vals[2]))
				return nil
			})
		},
	}
}

func (a *app) entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities <system> [<x> <y> <r>]",
		Short: "Сущности системы, все или в круге",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 4 {
				return fmt.Errorf("ожидается 1 или 4 аргумента, получено %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var circle []float64
			if len(args) == 4 {
				vals, err := parseFloats(args[1:])
				if err != nil {
					return err
				}
				circle = vals
			}
			eng, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}

			var found []galaxy.Entity
			err = eng.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
				var err error
				if circle != nil {
					found, err = g.EntitiesNear(args[0], geom.Pt(circle[0], circle[1]), circle[2])
				} else {
					found, err = g.Entities(args[0])
				}
				return err
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styleTitle.Render(fmt.Sprintf("%-40s %s", "ID", "POSITION")))
			for _, e := range found {
				fmt.Fprintf(out, "%-40s %s\n", e.ID, e.Position)
			}
			fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("всего: %d", len(found))))
			return nil
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <x> <y>",
		Short: "Добавить систему",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			eng, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			err = eng.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
				_, err := g.AddSystem(args[0], geom.Pt(vals[0], vals[1]))
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Система %s добавлена\n", args[0])
			return a.autosave(cmd)
		},
	}
}

func (a *app) spawnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn <system> <x> <y>",
		Short: "Создать сущность в системе",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			eng, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			var id galaxy.EntityID
			err = eng.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
				var err error
				id, err = g.Spawn(args[0], geom.Pt(vals[0], vals[1]))
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Сущность %s создана в %s\n", id, args[0])
			return a.autosave(cmd)
		},
	}
}

// autosave вне shell каждая команда сохраняет изменения сразу
func (a *app) autosave(cmd *cobra.Command) error {
	if a.shell {
		return nil
	}
	_, err := a.engine.Save(cmd.Context())
	return err
}

func (a *app) saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Сохранить текущую галактику",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			info, err := eng.Save(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "💾 Снимок %s: %d систем, %d сущностей, %d байт\n",
				info.Key, info.Systems, info.Entities, info.Bytes)
			return nil
		},
	}
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Показать заголовок снимка и проверить его целостность",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			data, err := store.Load(cmd.Context(), a.key)
			if err != nil {
				return err
			}
			c, comp, payload, err := codec.Inspect(data)
			if err != nil {
				return err
			}

			var snap galaxy.Snapshot
			if err := codec.Decode(data, &snap); err != nil {
				return err
			}
			g, err := galaxy.Restore(&snap)
			if err != nil {
				return err
			}
			if err := g.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stats := g.Stats()
			fmt.Fprintln(out, styleTitle.Render("Снимок "+a.key))
			fmt.Fprintf(out, "  формат:    %s + %s\n", c.Name(), comp.Name())
			fmt.Fprintf(out, "  размер:    %d байт (полезная нагрузка %d)\n", len(data), len(payload))
			fmt.Fprintf(out, "  границы:   %s, системы %s\n", snap.Bounds, snap.SystemBounds)
			fmt.Fprintf(out, "  систем:    %d\n", stats.Systems)
			fmt.Fprintf(out, "  сущностей: %d\n", stats.Entities)
			fmt.Fprintf(out, "  звёзды:    %s\n", stats.Stars)
			fmt.Fprintln(out, "  ✅ целостность подтверждена")
			return nil
		},
	}
}

func printSystems(out io.Writer, systems []*galaxy.StarSystem) {
	fmt.Fprintln(out, styleTitle.Render(fmt.Sprintf("%-16s %-28s %s", "NAME", "POSITION", "ENTITIES")))
	for _, sys := range systems {
		fmt.Fprintf(out, "%-16s %-28s %d\n", sys.Name, sys.Position, sys.Entities.Len())
	}
	fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("всего: %d", len(systems))))
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q не число", s)
		}
		out = append(out, v)
	}
	return out, nil
}
