package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/entities"
)

// CreateUserCommand registers a library account and optionally issues an
// API token for it.
type CreateUserCommand struct {
	DatabasePath string
	Username     string
	Email        string
	FullName     string
	Password     string
	Role         string
	IssueToken   bool

	Config *config.Config
	Out    io.Writer
}

func NewCreateUserCommand() *CreateUserCommand {
	return &CreateUserCommand{Out: os.Stdout}
}

func (cmd *CreateUserCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", "", "Path to the SQLite database (defaults to DATABASE_PATH)")
	fs.StringVar(&cmd.Username, "username", "", "Username (required)")
	fs.StringVar(&cmd.Email, "email", "", "Email address (required)")
	fs.StringVar(&cmd.FullName, "name", "", "Full name")
	fs.StringVar(&cmd.Password, "password", "", "Password, at least 12 characters (required)")
	fs.StringVar(&cmd.Role, "role", string(entities.UserRoleMember), "Role: member, librarian or admin")
	fs.BoolVar(&cmd.IssueToken, "token", false, "Also issue an API token and print it")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s create-user -username <name> -email <email> -password <password> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.Username == "" || cmd.Email == "" || cmd.Password == "" {
		return fmt.Errorf("required flags -username, -email and -password")
	}
	if !entities.UserRole(cmd.Role).IsValid() {
		return fmt.Errorf("invalid role %q", cmd.Role)
	}
	return nil
}

func (cmd *CreateUserCommand) Run() error {
	cfg := cmd.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	db, err := openDatabase(cfg, cmd.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	svc := auth.NewService(db.DB, cfg.Auth)
	user, err := svc.CreateUser(ctx, auth.NewUser{
		Username: cmd.Username,
		Email:    cmd.Email,
		FullName: cmd.FullName,
		Password: cmd.Password,
		Role:     entities.UserRole(cmd.Role),
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Fprintf(cmd.Out, "Created %s %q (id %d)\n", user.Role, user.Username, user.ID)

	if cmd.IssueToken {
		token, err := svc.GenerateToken(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintf(cmd.Out, "API token (shown once): %s\n", token)
	}
	return nil
}
