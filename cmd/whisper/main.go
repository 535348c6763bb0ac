// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// whisper is a command line front end for the whisper v1 envelope
// protocol: identity and contact management, encryption and decryption.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whisperlab/whisper/config"
	"github.com/whisperlab/whisper/contact"
	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/envelope"
	"github.com/whisperlab/whisper/identity"
	"github.com/whisperlab/whisper/keystore/boltkeystore"
	"github.com/whisperlab/whisper/policy"
	"github.com/whisperlab/whisper/replay"
	"github.com/whisperlab/whisper/storage/boltstore"
)

var (
	cfgFile string

	flagName       string
	flagID         string
	flagOut        string
	flagIn         string
	flagPassphrase string
	flagTo         string
	flagRawKey     string
	flagSign       bool
	flagConfirm    bool
	flagKeepActive bool
)

// app bundles every open handle the commands need.
type app struct {
	cfg        *config.Config
	logBackend *log.Backend

	records  *boltstore.Store
	keys     *boltkeystore.Store
	guard    *replay.Guard
	ids      *identity.Store
	contacts *contact.Store
	engine   *envelope.Engine
}

func openApp() (*app, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg = new(config.Config)
		err = cfg.FixupAndValidate()
	}
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logBackend: logBackend}
	if a.records, err = boltstore.New(filepath.Join(cfg.DataDir, "whisper.db")); err != nil {
		return nil, err
	}
	if a.keys, err = boltkeystore.New(filepath.Join(cfg.DataDir, "keys.db")); err != nil {
		a.records.Close()
		return nil, err
	}
	replayBackend, err := replay.NewBoltBackend(filepath.Join(cfg.DataDir, "replay.db"))
	if err != nil {
		a.keys.Close()
		a.records.Close()
		return nil, err
	}
	if a.guard, err = replay.NewGuard(replayBackend, cfg.Replay.Guard(), logBackend); err != nil {
		a.keys.Close()
		a.records.Close()
		replayBackend.Close()
		return nil, err
	}

	suite := crypto.NewSuite()
	a.ids = identity.NewStore(suite, a.records.Identities(), a.keys, logBackend)
	a.contacts = contact.NewStore(a.records.Contacts(), logBackend)
	a.engine = envelope.NewEngine(&envelope.EngineConfig{
		Suite:      suite,
		Identities: a.ids,
		Contacts:   a.contacts,
		Policy:     policy.NewEngine(cfg.Policy.Engine()),
		Replay:     a.guard,
		LogBackend: logBackend,
	})
	return a, nil
}

func (a *app) close() {
	a.guard.Shutdown()
	a.keys.Close()
	a.records.Close()
}

// withApp wraps a command body with app setup and teardown.
func withApp(fn func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()
		return fn(a, cmd, args)
	}
}

// readInput returns args[0] if present, otherwise all of stdin.
func readInput(args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(args[0]), nil
	}
	return io.ReadAll(os.Stdin)
}

var rootCmd = &cobra.Command{
	Use:           "whisper",
	Short:         "End to end encrypted envelope tool",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage local identities",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new identity and make it current",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		id, err := a.ids.Create(flagName)
		if err != nil {
			return err
		}
		fmt.Printf("created identity %s (%s)\n", id.ID, id.ShortFingerprint())
		return nil
	}),
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		ids, err := a.ids.ListAll()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Printf("%s  %-10s v%d  %s  %s\n", id.ID, id.Status, id.KeyVersion, id.ShortFingerprint(), id.DisplayName)
		}
		return nil
	}),
}

var identityRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the current identity's keys",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		autoArchive := a.cfg.Policy.AutoArchiveOnRotation && !flagKeepActive
		id, err := a.ids.Rotate(autoArchive)
		if err != nil {
			return err
		}
		fmt.Printf("rotated to identity %s (v%d, %s)\n", id.ID, id.KeyVersion, id.ShortFingerprint())
		return nil
	}),
}

var identityBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export an identity as a passphrase encrypted backup",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		blob, err := a.ids.Backup(flagID, []byte(flagPassphrase))
		if err != nil {
			return err
		}
		if flagOut == "" {
			fmt.Println(base64.StdEncoding.EncodeToString(blob))
			return nil
		}
		return os.WriteFile(flagOut, blob, 0600)
	}),
}

var identityRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore an identity from a backup file",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		blob, err := os.ReadFile(flagIn)
		if err != nil {
			return err
		}
		id, err := a.ids.Restore(blob, []byte(flagPassphrase))
		if err != nil {
			return err
		}
		fmt.Printf("restored identity %s (%s)\n", id.ID, id.ShortFingerprint())
		return nil
	}),
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Export the current identity's public bundle",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		id := flagID
		if id == "" {
			cur, err := a.ids.Active()
			if err != nil {
				return err
			}
			id = cur.ID
		}
		b, err := a.ids.ExportPublicBundle(id)
		if err != nil {
			return err
		}
		fmt.Println(b)
		return nil
	}),
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage contacts",
}

var contactAddCmd = &cobra.Command{
	Use:   "add <bundle>",
	Short: "Add a contact from a public bundle string",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		c, err := a.contacts.AddFromBundle(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("added contact %s (%s)\n", c.ID, c.ShortFingerprint())
		fmt.Printf("verification words: %s\n", strings.Join(c.SASWords(), " "))
		return nil
	}),
}

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		cs, err := a.contacts.List()
		if err != nil {
			return err
		}
		for _, c := range cs {
			blocked := ""
			if c.IsBlocked {
				blocked = " [blocked]"
			}
			fmt.Printf("%s  %-10s v%d  %s  %s%s\n", c.ID, c.TrustLevel, c.KeyVersion, c.ShortFingerprint(), c.DisplayName, blocked)
		}
		return nil
	}),
}

var contactVerifyCmd = &cobra.Command{
	Use:   "verify <contact-id>",
	Short: "Mark a contact verified after comparing verification words",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		c, err := a.contacts.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("verification words: %s\n", strings.Join(c.SASWords(), " "))
		if !flagConfirm {
			return fmt.Errorf("re-run with --confirm once both sides read the same words")
		}
		if err = a.contacts.Verify(c.ID, true); err != nil {
			return err
		}
		fmt.Printf("contact %s is now verified\n", c.ID)
		return nil
	}),
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt a message, reading plaintext from the argument or stdin",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		plaintext, err := readInput(args)
		if err != nil {
			return err
		}
		recipient := new(envelope.Recipient)
		switch {
		case flagTo != "":
			if recipient.Contact, err = a.contacts.Get(flagTo); err != nil {
				return err
			}
		case flagRawKey != "":
			if recipient.PublicKey, err = base64.RawURLEncoding.DecodeString(flagRawKey); err != nil {
				return err
			}
		default:
			return fmt.Errorf("one of --to or --raw-key is required")
		}
		env, err := a.engine.Encrypt(context.Background(), plaintext, recipient, flagSign)
		if err != nil {
			return err
		}
		fmt.Println(env)
		return nil
	}),
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [envelope]",
	Short: "Decrypt an envelope, reading it from the argument or stdin",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		raw, err := readInput(args)
		if err != nil {
			return err
		}
		msg, err := a.engine.Decrypt(strings.TrimSpace(string(raw)))
		if err != nil {
			return err
		}
		sender := "unknown sender"
		if msg.Sender != nil {
			sender = msg.Sender.DisplayName
		}
		fmt.Fprintf(os.Stderr, "from %s (%s)\n", sender, msg.Attribution)
		os.Stdout.Write(msg.Plaintext)
		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "path to the config file")

	identityCreateCmd.Flags().StringVar(&flagName, "name", "", "display name for the identity")
	identityRotateCmd.Flags().BoolVar(&flagKeepActive, "keep-active", false, "leave the previous identity active")
	identityBackupCmd.Flags().StringVar(&flagID, "id", "", "identity id to back up")
	identityBackupCmd.Flags().StringVar(&flagOut, "out", "", "output file (stdout if omitted)")
	identityBackupCmd.Flags().StringVar(&flagPassphrase, "passphrase", "", "backup passphrase")
	identityBackupCmd.MarkFlagRequired("id")
	identityBackupCmd.MarkFlagRequired("passphrase")
	identityRestoreCmd.Flags().StringVar(&flagIn, "in", "", "backup file to restore")
	identityRestoreCmd.Flags().StringVar(&flagPassphrase, "passphrase", "", "backup passphrase")
	identityRestoreCmd.MarkFlagRequired("in")
	identityRestoreCmd.MarkFlagRequired("passphrase")
	identityCmd.AddCommand(identityCreateCmd, identityListCmd, identityRotateCmd, identityBackupCmd, identityRestoreCmd)

	bundleCmd.Flags().StringVar(&flagID, "id", "", "identity id (current identity if omitted)")

	contactVerifyCmd.Flags().BoolVar(&flagConfirm, "confirm", false, "confirm the verification words match")
	contactCmd.AddCommand(contactAddCmd, contactListCmd, contactVerifyCmd)

	encryptCmd.Flags().StringVar(&flagTo, "to", "", "recipient contact id")
	encryptCmd.Flags().StringVar(&flagRawKey, "raw-key", "", "raw recipient public key, base64url")
	encryptCmd.Flags().BoolVar(&flagSign, "sign", false, "sign the message")

	rootCmd.AddCommand(identityCmd, contactCmd, bundleCmd, encryptCmd, decryptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "whisper: %v\n", err)
		os.Exit(1)
	}
}
