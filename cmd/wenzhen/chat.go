package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wenzhenlab/wenzhen/internal/consult"
	"github.com/wenzhenlab/wenzhen/internal/photo"
	"github.com/wenzhenlab/wenzhen/internal/profile"
	"github.com/wenzhenlab/wenzhen/internal/session"
	"github.com/wenzhenlab/wenzhen/internal/store"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive consultation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl, err := buildController(a)
			if err != nil {
				return err
			}
			defer ctrl.CancelAll()

			if err := ensureProfile(a); err != nil {
				return err
			}
			return chatLoop(ctx, a, ctrl)
		},
	}
}

// buildController wires the consultation stack from configuration.
func buildController(a *app) (*session.Controller, error) {
	client, err := consult.NewClient(consult.Config{
		BaseURL:        a.cfg.Server.BaseURL,
		Endpoint:       a.cfg.Server.Endpoint,
		ConnectTimeout: a.cfg.Server.ConnectTimeout(),
		ReadTimeout:    a.cfg.Server.ReadTimeout(),
	}, a.logger)
	if err != nil {
		return nil, err
	}

	pipeline, err := photo.NewPipeline(photo.Config{
		MaxWidth:  a.cfg.Image.MaxWidth,
		MaxHeight: a.cfg.Image.MaxHeight,
		Quality:   a.cfg.Image.Quality,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	return session.NewController(
		session.Config{MaxHistoryMessages: a.cfg.Chat.MaxHistoryMessages},
		a.profiles, client, pipeline, a.logger), nil
}

// ensureProfile guarantees a selected profile, creating or choosing one
// interactively when needed.
func ensureProfile(a *app) error {
	if _, err := a.profiles.Current(); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	records, err := a.profiles.List()
	if err != nil {
		return err
	}

	var id string
	if len(records) == 0 {
		rec, err := promptNewProfile()
		if err != nil {
			return err
		}
		if err := a.profiles.Add(rec); err != nil {
			return err
		}
		id = rec.ID
	} else {
		id, err = promptSelectProfile(records)
		if err != nil {
			return err
		}
	}
	return a.profiles.SetCurrentID(id)
}

// chatLoop reads turns from stdin until EOF or /quit.
func chatLoop(ctx context.Context, a *app, ctrl *session.Controller) error {
	rec, err := a.profiles.Current()
	if err != nil {
		return err
	}
	fmt.Printf("对话中：%s（%s）\n", rec.DisplayName(), rec.GenderAgeDesc())
	printRecentHistory(rec)
	fmt.Println("输入内容开始问诊。/tongue <路径> 或 /face <路径> 附加图片，/quit 退出。")

	var pending session.TurnInput
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/tongue "):
			pending.TonguePath = strings.TrimSpace(strings.TrimPrefix(line, "/tongue "))
			fmt.Println("已附加舌像，随下一条消息发送。")
			continue
		case strings.HasPrefix(line, "/face "):
			pending.FacePath = strings.TrimSpace(strings.TrimPrefix(line, "/face "))
			fmt.Println("已附加面像，随下一条消息发送。")
			continue
		case line == "" && pending.FacePath == "" && pending.TonguePath == "":
			continue
		}

		pending.Text = line
		if err := runTurn(ctx, ctrl, pending); err != nil {
			if errors.Is(err, session.ErrCancelled) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		pending = session.TurnInput{}
	}
}

// runTurn sends one turn, resolving the history limit interactively when
// it blocks the send.
func runTurn(ctx context.Context, ctrl *session.Controller, in session.TurnInput) error {
	for {
		fmt.Println(profile.NewLoadingMessage().Content)
		res, err := ctrl.SendTurn(ctx, in)
		if err == nil {
			for _, notice := range res.Notices {
				fmt.Println("提示：" + notice)
			}
			fmt.Println("医师：" + res.Reply)
			return nil
		}

		switch {
		case errors.Is(err, session.ErrHistoryLimit):
			choice, perr := promptHistoryLimit()
			if perr != nil {
				return perr
			}
			if choice == session.LimitCancel {
				fmt.Println("已取消发送。")
				return nil
			}
			if rerr := ctrl.ResolveLimit(choice); rerr != nil {
				return rerr
			}
			continue
		case errors.Is(err, session.ErrEmptyTurn):
			fmt.Println("请输入文字或附加图片。")
			return nil
		case errors.Is(err, session.ErrCancelled), errors.Is(err, context.Canceled):
			return err
		default:
			fmt.Println("错误：" + consult.UserMessage(err))
			return nil
		}
	}
}

// promptHistoryLimit presents the three-way choice for a full
// conversation.
func promptHistoryLimit() (session.LimitChoice, error) {
	var choice session.LimitChoice
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[session.LimitChoice]().
			Title("对话记录已满，如何处理？").
			Options(
				huh.NewOption("清空对话，保留诊断背景", session.LimitKeepContext),
				huh.NewOption("清空对话和诊断背景", session.LimitClearAll),
				huh.NewOption("取消", session.LimitCancel),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return session.LimitCancel, err
	}
	return choice, nil
}

// printRecentHistory replays the tail of the stored conversation.
func printRecentHistory(rec *profile.Record) {
	const tail = 6
	history := rec.History
	if len(history) > tail {
		fmt.Printf("（省略 %d 条较早消息）\n", len(history)-tail)
		history = history[len(history)-tail:]
	}
	for _, msg := range history {
		speaker := "我"
		if msg.IsAssistant() {
			speaker = "医师"
		}
		fmt.Printf("%s：%s\n", speaker, msg.Content)
	}
}
