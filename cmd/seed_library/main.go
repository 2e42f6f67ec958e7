package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/logging"
)

var sampleBooks = []library.BookInput{
	{Title: "Python Programming", Author: "John Smith", ISBN: "978-0-123456-78-9", Publisher: "Tech Books",
		PublicationYear: 2020, Category: "Programming", Description: "Complete guide to Python programming",
		Location: "A1-101", TotalCopies: 3},
	{Title: "Data Structures and Algorithms", Author: "Jane Doe", ISBN: "978-0-234567-89-0", Publisher: "Computer Science Press",
		PublicationYear: 2019, Category: "Computer Science", Description: "Fundamental concepts of data structures",
		Location: "B2-205", TotalCopies: 2},
	{Title: "Web Development with Flask", Author: "Mike Johnson", ISBN: "978-0-345678-90-1", Publisher: "Web Dev Books",
		PublicationYear: 2021, Category: "Web Development", Description: "Learn Flask web framework",
		Location: "C3-301", TotalCopies: 1},
	{Title: "Introduction to Algorithms", Author: "Thomas Cormen", ISBN: "978-0-262-03384-8", Publisher: "MIT Press",
		PublicationYear: 2009, Category: "Computer Science", Description: "Comprehensive introduction to algorithms",
		Location: "A2-102", TotalCopies: 2},
	{Title: "Clean Code", Author: "Robert Martin", ISBN: "978-0-13-235088-4", Publisher: "Prentice Hall",
		PublicationYear: 2008, Category: "Programming", Description: "A handbook of agile software craftsmanship",
		Location: "B1-201", TotalCopies: 1},
}

var sampleStudent = library.UserInput{
	Username: "student1",
	Email:    "student1@college.edu",
	Password: "student123",
	FullName: "Alice Student",
	Phone:    "123-456-7890",
	Address:  "123 College Street",
	Role:     library.RoleStudent,
}

func main() {
	var (
		configPath = flag.String("config", "library.yaml", "path to the YAML config file")
		fresh      = flag.Bool("fresh", true, "remove the existing database files first")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	policy, err := cfg.Policy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in lending policy: %v\n", err)
		os.Exit(1)
	}

	dbPath := cfg.Database.Path
	if *fresh {
		// Clean up any existing database files
		fmt.Println("Cleaning up existing database files...")
		for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	manager, err := library.NewLibraryManager(dbPath, log, library.WithPolicy(policy))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx := context.Background()
	if _, err := manager.EnsureDefaultAdmin(ctx, cfg.AdminInput()); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating admin: %v\n", err)
		os.Exit(1)
	}
	admin, err := manager.Authenticate(ctx, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing in as %s: %v\n", cfg.Admin.Username, err)
		os.Exit(1)
	}
	caller := admin.Caller()

	successCount, errorCount := 0, 0
	for _, in := range sampleBooks {
		fmt.Printf("Adding: %s by %s... ", in.Title, in.Author)
		b, err := manager.AddBook(ctx, caller, in)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %d)\n", b.ID)
		successCount++
	}

	if _, err := manager.AddUser(ctx, caller, sampleStudent); err != nil {
		fmt.Printf("Student %s not created: %v\n", sampleStudent.Username, err)
		errorCount++
	}

	fmt.Printf("\nSeeding complete!\n")
	fmt.Printf("Books added: %d\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	books, err := manager.ListBooks(ctx, library.BookFilter{})
	if err != nil {
		fmt.Printf("Error retrieving books: %v\n", err)
	} else if len(books) > 0 {
		fmt.Printf("%-3s %-40s %-20s %s\n", "ID", "Title", "Author", "Copies")
		fmt.Println(strings.Repeat("-", 75))
		for _, b := range books {
			fmt.Printf("%-3d %-40s %-20s %d\n", b.ID, library.Truncate(b.Title, 40), library.Truncate(b.Author, 20), b.TotalCopies)
		}
	}

	fmt.Println("\nLogin credentials:")
	fmt.Printf("  Admin:   username=%s\n", cfg.Admin.Username)
	fmt.Printf("  Student: username=%s, password=%s\n", sampleStudent.Username, sampleStudent.Password)
}
