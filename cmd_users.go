package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

var (
	userIn     library.UserInput
	userRole   string
	userQuery  string
	newPassArg string

	usersCmd = &cobra.Command{
		Use:   "users",
		Short: "Manage library users",
	}
	userAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Register a user (admin)",
		Args:  cobra.NoArgs,
		RunE:  runUserAdd,
	}
	userUpdateCmd = &cobra.Command{
		Use:   "update [user-id]",
		Short: "Edit a profile; defaults to your own",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUserUpdate,
	}
	userDeactivateCmd = &cobra.Command{
		Use:     "deactivate <user-id>",
		Aliases: []string{"delete"},
		Short:   "Remove a student with no open loans (admin)",
		Args:    cobra.ExactArgs(1),
		RunE:    runUserDeactivate,
	}
	userListCmd = &cobra.Command{
		Use:   "list",
		Short: "List users (admin)",
		Args:  cobra.NoArgs,
		RunE:  runUserList,
	}
	userShowCmd = &cobra.Command{
		Use:   "show [user-id]",
		Short: "Show a profile; defaults to your own",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUserShow,
	}
	userPasswdCmd = &cobra.Command{
		Use:   "passwd [user-id]",
		Short: "Change your password, or reset another user's (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUserPasswd,
	}
)

func init() {
	for _, c := range []*cobra.Command{userAddCmd, userUpdateCmd} {
		f := c.Flags()
		f.StringVar(&userIn.Email, "email", "", "email address")
		f.StringVar(&userIn.StudentID, "student-id", "", "student id")
		f.StringVar(&userIn.FullName, "name", "", "full name")
		f.StringVar(&userIn.Phone, "phone", "", "phone number")
		f.StringVar(&userIn.Address, "address", "", "postal address")
		f.StringVar(&userRole, "role", "", "admin or student")
	}
	userAddCmd.Flags().StringVar(&userIn.Username, "username", "", "login name")
	userAddCmd.Flags().StringVar(&newPassArg, "password", "", "initial password (prompted when empty)")
	userListCmd.Flags().StringVar(&userQuery, "query", "", "match username, name or email")
	userListCmd.Flags().StringVar(&userRole, "role", "", "only this role")

	usersCmd.AddCommand(userAddCmd, userUpdateCmd, userDeactivateCmd, userListCmd, userShowCmd, userPasswdCmd)
}

// targetUser resolves an optional user-id argument, defaulting to the caller.
func targetUser(args []string, caller library.Caller) (int64, error) {
	if len(args) == 0 {
		return caller.ID, nil
	}
	return parseID(args[0], "user")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	in := userIn
	in.Role = library.Role(userRole)
	in.Password = newPassArg
	if in.Password == "" {
		in.Password, err = readPassword(fmt.Sprintf("Enter password for %s: ", in.Username))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}
	u, err := manager.AddUser(cmd.Context(), caller, in)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s '%s' with ID %d\n", u.Role, u.Username, u.ID)
	return nil
}

func runUserUpdate(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	id, err := targetUser(args, caller)
	if err != nil {
		return err
	}
	old, err := manager.GetUser(cmd.Context(), caller, id)
	if err != nil {
		return err
	}

	up := library.UserUpdate{
		Email: old.Email, StudentID: old.StudentID, FullName: old.FullName,
		Phone: old.Phone, Address: old.Address,
	}
	f := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if f.Changed(name) {
			*dst = v
		}
	}
	set("email", &up.Email, userIn.Email)
	set("student-id", &up.StudentID, userIn.StudentID)
	set("name", &up.FullName, userIn.FullName)
	set("phone", &up.Phone, userIn.Phone)
	set("address", &up.Address, userIn.Address)
	if f.Changed("role") {
		r := library.Role(userRole)
		up.Role = &r
	}

	u, err := manager.UpdateUser(cmd.Context(), caller, id, up)
	if err != nil {
		return err
	}
	fmt.Printf("Updated user %d (%s)\n", u.ID, u.Username)
	return nil
}

func runUserDeactivate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "user")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	if err := manager.DeactivateUser(cmd.Context(), caller, id); err != nil {
		return err
	}
	fmt.Printf("User %d deactivated\n", id)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	users, err := manager.ListUsers(cmd.Context(), caller, library.UserFilter{
		Query: userQuery,
		Role:  library.Role(userRole),
	})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users registered.")
		return nil
	}

	fmt.Printf("%-5s %-15s %-25s %-28s %-12s %s\n", "ID", "Username", "Name", "Email", "Student ID", "Role")
	fmt.Println(strings.Repeat("-", 100))
	for _, u := range users {
		fmt.Printf("%-5d %-15s %-25s %-28s %-12s %s\n",
			u.ID,
			library.Truncate(u.Username, 15),
			library.Truncate(u.FullName, 25),
			library.Truncate(u.Email, 28),
			library.Truncate(u.StudentID, 12),
			u.Role)
	}
	return nil
}

func runUserShow(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	id, err := targetUser(args, caller)
	if err != nil {
		return err
	}
	u, err := manager.GetUser(cmd.Context(), caller, id)
	if err != nil {
		return err
	}
	fmt.Printf("ID:         %d\n", u.ID)
	fmt.Printf("Username:   %s\n", u.Username)
	fmt.Printf("Name:       %s\n", u.FullName)
	fmt.Printf("Email:      %s\n", u.Email)
	fmt.Printf("Role:       %s\n", u.Role)
	if u.StudentID != "" {
		fmt.Printf("Student ID: %s\n", u.StudentID)
	}
	if u.Phone != "" {
		fmt.Printf("Phone:      %s\n", u.Phone)
	}
	fmt.Printf("Joined:     %s\n", formatDate(u.CreatedAt))

	loans, err := manager.ListLoans(cmd.Context(), caller, library.LoanFilter{UserID: u.ID})
	if err != nil {
		return err
	}
	fmt.Printf("\nLoans (%d):\n", len(loans))
	printLoans(loans)
	return nil
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	id, err := targetUser(args, caller)
	if err != nil {
		return err
	}

	if id != caller.ID {
		newPassword, err := readPassword(fmt.Sprintf("Enter new password for user %d: ", id))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if err := manager.ResetPassword(cmd.Context(), caller, id, newPassword); err != nil {
			return err
		}
		fmt.Printf("Password successfully reset for user %d\n", id)
		return nil
	}

	currentPassword, err := readPassword("Current password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	newPassword, err := readPassword("New password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	confirm, err := readPassword("Confirm new password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if newPassword != confirm {
		return fmt.Errorf("%w: new passwords do not match", library.ErrInvalidInput)
	}
	if err := manager.ChangePassword(cmd.Context(), caller, currentPassword, newPassword); err != nil {
		return err
	}
	fmt.Println("Password changed successfully")
	return nil
}
