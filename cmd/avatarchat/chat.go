package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/markdown"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /voice   speak replies
  /text    stop speaking replies
  /stop    stop the current reply
  /clear   forget the conversation
  /quit    exit`

func chatCmd(configFile *string) *cobra.Command {
	var voice bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long:  "Chat in the terminal. In voice mode replies are also spoken.\n\n" + chatHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			mode := config.ModeText
			if voice {
				mode = config.ModeVoice
			}
			if err := a.settings.SetMode(mode); err != nil {
				return err
			}

			md, err := markdown.NewTerminal(markdown.TerminalWidth(os.Stdout), markdown.IsTerminal(os.Stdout))
			if err != nil {
				return err
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			fmt.Println(titleStyle.Render("Talking Avatar") + dimStyle.Render(" · "+a.chat.Model()+" · /help for commands"))
			for {
				fmt.Print(successStyle.Render("> "))
				var line string
				select {
				case <-ctx.Done():
					fmt.Println()
					return nil
				case l, ok := <-lines:
					if !ok {
						return nil
					}
					line = strings.TrimSpace(l)
				}

				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/help":
					fmt.Println(dimStyle.Render(chatHelp))
					continue
				case "/clear":
					a.chatUI.Clear()
					fmt.Println(dimStyle.Render("Conversation cleared."))
					continue
				case "/stop":
					a.chatUI.Stop()
					continue
				case "/voice", "/text":
					if err := a.settings.SetMode(strings.TrimPrefix(line, "/")); err != nil {
						return err
					}
					fmt.Println(dimStyle.Render("Mode: " + a.settings.Mode()))
					continue
				}

				msg, err := a.chatUI.Send(ctx, line)
				if err != nil {
					fmt.Println(errorStyle.Render(chat.DisplayError(err)))
					continue
				}
				fmt.Print(md.Render(msg.Content))
			}
		},
	}
	cmd.Flags().BoolVar(&voice, "voice", false, "start in voice mode")
	return cmd
}
