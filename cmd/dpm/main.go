// Command dpm is a small front end for a DPM node.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/TheusHen/DPM/dpm"
	"github.com/TheusHen/DPM/dpm/config"
	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/vault"
)

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		handleError(err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(cfg.LogLevel).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "init":
		err = runInit(ctx, cfg, log, args)
	case "serve":
		err = runServe(ctx, cfg, log, args)
	case "list":
		err = runList(ctx, cfg, log, args)
	case "add":
		err = runAdd(ctx, cfg, log, args)
	case "remove":
		err = runRemove(ctx, cfg, log, args)
	default:
		printUsage()
		os.Exit(1)
	}
	handleError(err)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: dpm <command> [flags]

commands:
  init [-seed SEED]   create a network, or join the one named by SEED
  serve               stay online and answer other devices
  list [-show]        print the vault entries
  add NAME            add an entry, prompting for its password
  remove NAME         remove an entry

settings are read from DPM_* environment variables`)
}

func handleError(err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}
	if errors.Is(err, identity.ErrWrongPassword) {
		fmt.Fprintln(os.Stderr, "wrong master password")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

func parseFlags(name string, args []string, positional int, setup func(*flag.FlagSet)) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, userError{msg: "invalid arguments"}
	}
	if fs.NArg() != positional {
		return nil, userError{msg: fmt.Sprintf("%s expects %d argument(s)", name, positional)}
	}
	return fs.Args(), nil
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return pw, err
}

func signIn(ctx context.Context, cfg config.Config, log zerolog.Logger) (*dpm.Node, error) {
	node, err := dpm.NewNode(cfg, dpm.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if !node.Provisioned() {
		return nil, userError{msg: "this device is not part of a network, run dpm init first"}
	}
	pw, err := promptPassword("Master password: ")
	if err != nil {
		return nil, fmt.Errorf("read master password: %w", err)
	}
	defer crypto.Zero(pw)
	if err := node.SignIn(ctx, pw); err != nil {
		return nil, err
	}
	return node, nil
}

func runInit(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	var seed string
	if _, err := parseFlags("init", args, 0, func(fs *flag.FlagSet) {
		fs.StringVar(&seed, "seed", "", "seed of the network to join")
	}); err != nil {
		return err
	}

	node, err := dpm.NewNode(cfg, dpm.WithLogger(log))
	if err != nil {
		return err
	}
	defer node.Close()

	pw, err := promptPassword("Master password: ")
	if err != nil {
		return fmt.Errorf("read master password: %w", err)
	}
	defer crypto.Zero(pw)
	if seed == "" {
		confirm, err := promptPassword("Confirm master password: ")
		if err != nil {
			return fmt.Errorf("read confirmation password: %w", err)
		}
		defer crypto.Zero(confirm)
		if !bytes.Equal(pw, confirm) {
			return userError{msg: "passwords do not match"}
		}
	}

	if err := node.Provision(ctx, pw, seed); err != nil {
		if errors.Is(err, dpm.ErrProvisioned) {
			return userError{msg: "this device is already part of a network"}
		}
		return err
	}
	props := node.Properties()
	fmt.Printf("node    %s\nnetwork %s\nseed    %s\n", props.NodeID, props.NetworkID, props.Seed)
	return nil
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	if _, err := parseFlags("serve", args, 0, nil); err != nil {
		return err
	}
	node, err := signIn(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer node.Close()
	log.Info().Msg("serving, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

func runList(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	var show bool
	if _, err := parseFlags("list", args, 0, func(fs *flag.FlagSet) {
		fs.BoolVar(&show, "show", false, "print passwords")
	}); err != nil {
		return err
	}
	node, err := signIn(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer node.Close()

	v, err := node.ConstructVault(ctx)
	if err != nil {
		return err
	}
	for _, e := range v.All() {
		if show {
			fmt.Printf("%s\t%s\n", e.Name, e.Password)
		} else {
			fmt.Println(e.Name)
		}
	}
	return nil
}

func runAdd(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	rest, err := parseFlags("add", args, 1, nil)
	if err != nil {
		return err
	}
	return modify(ctx, cfg, log, func(v *vault.Vault) error {
		pw, err := promptPassword(fmt.Sprintf("Password for %s: ", rest[0]))
		if err != nil {
			return err
		}
		defer crypto.Zero(pw)
		if err := v.Add(vault.Entry{Name: rest[0], Password: pw}); err != nil {
			if errors.Is(err, vault.ErrDuplicateEntry) {
				return userError{msg: fmt.Sprintf("%s already exists", rest[0])}
			}
			return err
		}
		return nil
	})
}

func runRemove(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	rest, err := parseFlags("remove", args, 1, nil)
	if err != nil {
		return err
	}
	return modify(ctx, cfg, log, func(v *vault.Vault) error {
		if !v.Remove(rest[0]) {
			return userError{msg: fmt.Sprintf("no entry named %s", rest[0])}
		}
		return nil
	})
}

func modify(ctx context.Context, cfg config.Config, log zerolog.Logger, fn func(*vault.Vault) error) error {
	node, err := signIn(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer node.Close()

	v, err := node.ConstructVault(ctx)
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	return node.NotifyVaultChange(ctx)
}
