package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

var (
	bookIn        library.BookInput
	bookCategory  string
	bookAvailable bool

	booksCmd = &cobra.Command{
		Use:   "books",
		Short: "Manage the catalog",
	}
	bookAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Add a book (admin)",
		Args:  cobra.NoArgs,
		RunE:  runBookAdd,
	}
	bookUpdateCmd = &cobra.Command{
		Use:   "update <book-id>",
		Short: "Edit a book; only the flags given are changed (admin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runBookUpdate,
	}
	bookDeactivateCmd = &cobra.Command{
		Use:     "deactivate <book-id>",
		Aliases: []string{"delete"},
		Short:   "Remove a book with no copies out on loan (admin)",
		Args:    cobra.ExactArgs(1),
		RunE:    runBookDeactivate,
	}
	bookListCmd = &cobra.Command{
		Use:   "list [query]",
		Short: "List books, optionally filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBookList,
	}
	bookSearchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Quick search by title, author or ISBN (top 10)",
		Args:  cobra.ExactArgs(1),
		RunE:  runBookSearch,
	}
	bookShowCmd = &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show a book and, for admins, its loan history",
		Args:  cobra.ExactArgs(1),
		RunE:  runBookShow,
	}
	bookCategoriesCmd = &cobra.Command{
		Use:   "categories",
		Short: "List catalog categories",
		Args:  cobra.NoArgs,
		RunE:  runBookCategories,
	}
)

func init() {
	for _, c := range []*cobra.Command{bookAddCmd, bookUpdateCmd} {
		f := c.Flags()
		f.StringVar(&bookIn.Title, "title", "", "title")
		f.StringVar(&bookIn.Author, "author", "", "author")
		f.StringVar(&bookIn.ISBN, "isbn", "", "ISBN")
		f.StringVar(&bookIn.Publisher, "publisher", "", "publisher")
		f.IntVar(&bookIn.PublicationYear, "year", 0, "publication year")
		f.StringVar(&bookIn.Category, "category", "", "category")
		f.StringVar(&bookIn.Description, "description", "", "description")
		f.StringVar(&bookIn.Location, "location", "", "shelf location")
		f.IntVar(&bookIn.TotalCopies, "copies", 1, "total copies")
	}
	bookListCmd.Flags().StringVar(&bookCategory, "category", "", "only this category")
	bookListCmd.Flags().BoolVar(&bookAvailable, "available", false, "only books with a copy on the shelf")

	booksCmd.AddCommand(bookAddCmd, bookUpdateCmd, bookDeactivateCmd, bookListCmd,
		bookSearchCmd, bookShowCmd, bookCategoriesCmd)
}

func runBookAdd(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	b, err := manager.AddBook(cmd.Context(), caller, bookIn)
	if err != nil {
		return err
	}
	fmt.Printf("Added book ID %d: %s (%d copies)\n", b.ID, b.Title, b.TotalCopies)
	return nil
}

func runBookUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "book")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	old, err := manager.GetBook(cmd.Context(), id)
	if err != nil {
		return err
	}

	in := library.BookInput{
		Title: old.Title, Author: old.Author, ISBN: old.ISBN, Publisher: old.Publisher,
		PublicationYear: old.PublicationYear, Category: old.Category, Description: old.Description,
		Location: old.Location, TotalCopies: old.TotalCopies,
	}
	f := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if f.Changed(name) {
			*dst = v
		}
	}
	set("title", &in.Title, bookIn.Title)
	set("author", &in.Author, bookIn.Author)
	set("isbn", &in.ISBN, bookIn.ISBN)
	set("publisher", &in.Publisher, bookIn.Publisher)
	set("category", &in.Category, bookIn.Category)
	set("description", &in.Description, bookIn.Description)
	set("location", &in.Location, bookIn.Location)
	if f.Changed("year") {
		in.PublicationYear = bookIn.PublicationYear
	}
	if f.Changed("copies") {
		in.TotalCopies = bookIn.TotalCopies
	}

	b, err := manager.UpdateBook(cmd.Context(), caller, id, in)
	if err != nil {
		return err
	}
	fmt.Printf("Updated book ID %d: %d of %d copies available\n", b.ID, b.AvailableCopies, b.TotalCopies)
	return nil
}

func runBookDeactivate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "book")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	if err := manager.DeactivateBook(cmd.Context(), caller, id); err != nil {
		return err
	}
	fmt.Printf("Book %d deactivated\n", id)
	return nil
}

func runBookList(cmd *cobra.Command, args []string) error {
	f := library.BookFilter{Category: bookCategory, AvailableOnly: bookAvailable}
	if len(args) == 1 {
		f.Query = args[0]
	}
	books, err := manager.ListBooks(cmd.Context(), f)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Println("No books in library.")
		return nil
	}
	printBooks(books)
	return nil
}

func runBookSearch(cmd *cobra.Command, args []string) error {
	books, err := manager.SearchBooks(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Printf("No books found matching '%s'.\n", args[0])
		return nil
	}
	fmt.Printf("Found %d book(s) matching '%s':\n", len(books), args[0])
	printBooks(books)
	return nil
}

func runBookShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "book")
	if err != nil {
		return err
	}
	b, err := manager.GetBook(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("ID:          %d\n", b.ID)
	fmt.Printf("Title:       %s\n", b.Title)
	fmt.Printf("Author:      %s\n", b.Author)
	fmt.Printf("ISBN:        %s\n", b.ISBN)
	if b.Publisher != "" {
		fmt.Printf("Publisher:   %s (%d)\n", b.Publisher, b.PublicationYear)
	}
	if b.Category != "" {
		fmt.Printf("Category:    %s\n", b.Category)
	}
	if b.Location != "" {
		fmt.Printf("Location:    %s\n", b.Location)
	}
	fmt.Printf("Copies:      %d of %d available\n", b.AvailableCopies, b.TotalCopies)
	if b.Description != "" {
		fmt.Printf("\n%s\n", b.Description)
	}

	if username == "" {
		return nil
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	if caller.Role != library.RoleAdmin {
		return nil
	}
	loans, err := manager.BookHistory(cmd.Context(), caller, id)
	if err != nil {
		return err
	}
	fmt.Printf("\nLoan history (%d):\n", len(loans))
	printLoans(loans)
	return nil
}

func runBookCategories(cmd *cobra.Command, args []string) error {
	cats, err := manager.Categories(cmd.Context())
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		fmt.Println("No categories.")
		return nil
	}
	fmt.Println(strings.Join(cats, "\n"))
	return nil
}

func printBooks(books []*library.Book) {
	fmt.Printf("%-5s %-30s %-25s %-20s %-15s %s\n", "ID", "Title", "Author", "ISBN", "Category", "Available")
	fmt.Println(strings.Repeat("-", 110))
	for _, b := range books {
		fmt.Printf("%-5d %-30s %-25s %-20s %-15s %d/%d\n",
			b.ID,
			library.Truncate(b.Title, 30),
			library.Truncate(b.Author, 25),
			library.Truncate(b.ISBN, 20),
			library.Truncate(b.Category, 15),
			b.AvailableCopies, b.TotalCopies)
	}
}
