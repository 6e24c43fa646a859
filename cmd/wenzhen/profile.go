package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wenzhenlab/wenzhen/internal/profile"
	"github.com/wenzhenlab/wenzhen/internal/store"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage patient profiles",
	}
	cmd.AddCommand(
		profileListCmd(),
		profileNewCmd(),
		profileUseCmd(),
		profileRemoveCmd(),
		profileClearHistoryCmd(),
		profileClearContextCmd(),
	)
	return cmd
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.profiles.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No profiles yet. Create one with: wenzhen profile new")
				return nil
			}

			currentID, err := a.profiles.CurrentID()
			if err != nil {
				return err
			}
			for _, rec := range records {
				marker := " "
				if rec.ID == currentID {
					marker = "*"
				}
				fmt.Printf("%s %-28s %-10s %s  (%d messages)\n",
					marker, rec.ID, rec.DisplayName(), rec.GenderAgeDesc(), len(rec.History))
			}
			return nil
		},
	}
}

func profileNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a profile and select it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := promptNewProfile()
			if err != nil {
				return err
			}
			if err := a.profiles.Add(rec); err != nil {
				return err
			}
			if err := a.profiles.SetCurrentID(rec.ID); err != nil {
				return err
			}
			fmt.Printf("Created and selected %s (%s)\n", rec.DisplayName(), rec.ID)
			return nil
		},
	}
}

// promptNewProfile collects identity fields interactively.
func promptNewProfile() (*profile.Record, error) {
	var (
		name   string
		sex    string
		ageStr string
	)

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("姓名").
			Placeholder("未命名").
			Value(&name),
		huh.NewSelect[string]().
			Title("性别").
			Options(
				huh.NewOption("男", "男"),
				huh.NewOption("女", "女"),
			).
			Value(&sex),
		huh.NewInput().
			Title("年龄").
			Value(&ageStr).
			Validate(func(s string) error {
				n, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil || n < 0 || n > 150 {
					return errors.New("请输入 0-150 之间的整数")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}

	age, _ := strconv.Atoi(strings.TrimSpace(ageStr))
	return profile.New(strings.TrimSpace(name), sex, age), nil
}

// promptSelectProfile asks which existing profile to use.
func promptSelectProfile(records []*profile.Record) (string, error) {
	options := make([]huh.Option[string], 0, len(records))
	for _, rec := range records {
		label := fmt.Sprintf("%s（%s）", rec.DisplayName(), rec.GenderAgeDesc())
		options = append(options, huh.NewOption(label, rec.ID))
	}

	var id string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("选择档案").
			Options(options...).
			Value(&id),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return id, nil
}

func profileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use [id]",
		Short: "Select the active profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				records, err := a.profiles.List()
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return errors.New("no profiles exist, create one with: wenzhen profile new")
				}
				id, err = promptSelectProfile(records)
				if err != nil {
					return err
				}
			}

			rec, err := a.profiles.Get(id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("profile %q not found", id)
				}
				return err
			}
			if err := a.profiles.SetCurrentID(rec.ID); err != nil {
				return err
			}
			fmt.Printf("Selected %s (%s)\n", rec.DisplayName(), rec.ID)
			return nil
		},
	}
}

func profileRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a profile and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.profiles.Get(args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("profile %q not found", args[0])
				}
				return err
			}

			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("删除档案「%s」及其全部对话记录？", rec.DisplayName())).
					Affirmative("删除").
					Negative("取消").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				return nil
			}

			if err := a.profiles.Remove(rec.ID); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", rec.ID)
			return nil
		},
	}
}

func profileClearHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history",
		Short: "Clear the current profile's conversation, keeping saved context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.profiles.Current()
			if err != nil {
				return err
			}
			rec.ClearHistory()
			if err := a.profiles.Update(rec); err != nil {
				return err
			}
			fmt.Printf("History cleared for %s\n", rec.DisplayName())
			return nil
		},
	}
}

func profileClearContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-context",
		Short: "Reset the current profile's saved context to identity only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.profiles.Current()
			if err != nil {
				return err
			}
			rec.ClearContext()
			if err := a.profiles.Update(rec); err != nil {
				return err
			}
			fmt.Printf("Context reset for %s\n", rec.DisplayName())
			return nil
		},
	}
}
