package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/database/books"
	"github.com/mrlokans/librarian/internal/entities"
)

// SeedBookCommand adds a title to the catalog.
type SeedBookCommand struct {
	DatabasePath string
	Title        string
	Author       string
	ISBN         string
	Copies       int

	Config *config.Config
	Out    io.Writer
}

func NewSeedBookCommand() *SeedBookCommand {
	return &SeedBookCommand{Out: os.Stdout}
}

func (cmd *SeedBookCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("seed-book", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", "", "Path to the SQLite database (defaults to DATABASE_PATH)")
	fs.StringVar(&cmd.Title, "title", "", "Book title (required)")
	fs.StringVar(&cmd.Author, "author", "", "Author")
	fs.StringVar(&cmd.ISBN, "isbn", "", "ISBN")
	fs.IntVar(&cmd.Copies, "copies", 1, "Number of copies on the shelf")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s seed-book -title <title> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.Title == "" {
		return fmt.Errorf("required flag -title not provided")
	}
	if cmd.Copies < 0 {
		return fmt.Errorf("-copies must not be negative")
	}
	return nil
}

func (cmd *SeedBookCommand) Run() error {
	cfg := cmd.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	db, err := openDatabase(cfg, cmd.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	book := &entities.Book{
		Title:       cmd.Title,
		Author:      cmd.Author,
		ISBN:        cmd.ISBN,
		TotalCopies: cmd.Copies,
	}
	if err := books.NewRepository(db.DB).CreateBook(context.Background(), book); err != nil {
		return fmt.Errorf("failed to add book: %w", err)
	}
	fmt.Fprintf(cmd.Out, "Added %q by %s with %d copies (id %d)\n", book.Title, book.Author, book.TotalCopies, book.ID)
	return nil
}
