package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/database"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/service"
	"golang.org/x/term"
)

const minPasswordLen = 8

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// account is what the command collects before touching the database.
type account struct {
	Name     string `validate:"required,min=2,max=100"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,min=8,max=128"`
}

func newRootCmd() *cobra.Command {
	var (
		acc           account
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:          "create-admin",
		Short:        "Create an administrator account",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			if err := fillAccount(cmd, in, &acc, passwordStdin); err != nil {
				return err
			}
			if err := govalidator.New().Struct(acc); err != nil {
				return fmt.Errorf("invalid account: %w", err)
			}
			return create(cmd, acc)
		},
	}
	cmd.Flags().StringVar(&acc.Name, "name", "", "display name")
	cmd.Flags().StringVar(&acc.Email, "email", "", "login email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of a prompt")
	return cmd
}

// fillAccount prompts for whatever the flags left empty.
func fillAccount(cmd *cobra.Command, in *bufio.Reader, acc *account, passwordStdin bool) error {
	var err error
	if acc.Name == "" {
		if acc.Name, err = prompt(cmd, in, "Name: "); err != nil {
			return err
		}
	}
	if acc.Email == "" {
		if acc.Email, err = prompt(cmd, in, "Email: "); err != nil {
			return err
		}
	}
	acc.Name = strings.TrimSpace(acc.Name)
	acc.Email = strings.ToLower(strings.TrimSpace(acc.Email))

	if passwordStdin {
		acc.Password, err = readLine(in)
		return err
	}
	acc.Password, err = promptPassword(cmd)
	return err
}

func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	cmd.Print(label)
	return readLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptPassword asks twice on the terminal without echo.
func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal, use --password-stdin")
	}

	read := func(label string) (string, error) {
		cmd.Print(label)
		b, err := term.ReadPassword(fd)
		cmd.Println()
		return string(b), err
	}
	first, err := read("Password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(first) < minPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	second, err := read("Repeat password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}

func create(cmd *cobra.Command, acc account) error {
	cfg := config.Load()
	log := logger.Setup("create-admin", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Account creation never touches Redis.
	auth := service.NewAuthService(cfg, nil, repository.NewProfileRepository(pool), log)
	admin, err := auth.CreateAccount(ctx, acc.Email, acc.Password, acc.Name, model.RoleAdmin)
	if errors.Is(err, service.ErrEmailTaken) {
		return fmt.Errorf("an account with email %s already exists", acc.Email)
	}
	if err != nil {
		return err
	}

	cmd.Printf("Created admin %q <%s> with id %s\n", admin.UserName, admin.Email, admin.ID)
	return nil
}
