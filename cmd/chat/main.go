// A terminal chat client for the guildchat broker. It obtains an
// anonymous token, joins a room and mirrors the conversation to stdout.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"guildchat/realtime/internal/messaging"
	"guildchat/realtime/internal/models"
)

func main() {
	server := pflag.String("server", "ws://localhost:8080", "broker websocket base URL")
	room := pflag.String("room", "", "room id to join")
	nickname := pflag.String("nickname", "anonymous", "display name")
	logLevel := pflag.String("log-level", "warn", "zerolog level")
	typing := pflag.Bool("typing", true, "send and show typing indicators")
	pflag.Parse()

	if *room == "" {
		fmt.Fprintln(os.Stderr, "--room is required")
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if err := run(&logger, *server, *room, *nickname, *typing); err != nil {
		logger.Fatal().Err(err).Msg("chat client exited")
	}
}

func run(logger *zerolog.Logger, server, room, nickname string, typing bool) error {
	token, err := fetchToken(server, nickname)
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}

	session, err := messaging.NewSession(messaging.Config{
		ServerURL:              server,
		Tokens:                 messaging.StaticToken(token),
		EnableTypingIndicators: typing,
		Logger:                 logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	go printEvents(session)

	if err := session.Connect(room); err != nil {
		return err
	}

	fmt.Println("commands: /more  /status  /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/status":
			printStatus(session)
		case line == "/more":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			msgs, err := session.LoadMoreMessages(ctx)
			cancel()
			if err != nil {
				fmt.Printf("! history: %v\n", err)
			} else if len(msgs) == 0 {
				fmt.Println("-- no older messages --")
			}
		default:
			if res := session.SendMessage(line); !res.Success {
				switch {
				case res.RateLimit != nil:
					fmt.Printf("! rate limited, retry after %s\n",
						time.Until(res.RateLimit.ResetAt).Round(time.Second))
				case res.Err != nil:
					fmt.Printf("! send failed: %v\n", res.Err)
				}
			}
		}
	}
	return scanner.Err()
}

func printEvents(session *messaging.Session) {
	for ev := range session.Events() {
		switch ev.Type {
		case messaging.EventMessageReceived:
			printMessage(ev.Message)
		case messaging.EventMessagesLoaded:
			fmt.Printf("-- loaded %d older messages --\n", len(ev.Messages))
			for _, m := range ev.Messages {
				printMessage(&m)
			}
		case messaging.EventConnectionEstablished:
			fmt.Println("-- connected --")
		case messaging.EventConnectionLost:
			fmt.Println("-- connection lost, reconnecting --")
		case messaging.EventTypingStarted:
			if ev.Typing != nil {
				fmt.Printf("-- %s is typing --\n", ev.Typing.Username)
			}
		case messaging.EventRateLimitExceeded:
			fmt.Println("-- sending too fast --")
		case messaging.EventErrorOccurred:
			fmt.Printf("! %v\n", ev.Err)
		}
	}
}

func printMessage(m *models.Message) {
	if m == nil {
		return
	}
	ts := m.Timestamp.Local().Format("15:04:05")
	switch m.Kind {
	case models.KindSystem, models.KindBroadcast:
		fmt.Printf("[%s] * %s\n", ts, m.Text)
	default:
		fmt.Printf("[%s] <%s> %s\n", ts, m.SenderNickname, m.Text)
	}
}

func printStatus(session *messaging.Session) {
	state := session.Snapshot()
	fmt.Printf("room=%s status=%s messages=%d hasMore=%v\n",
		state.RoomID, state.Connection.Status, len(state.Messages), state.HasMoreHistory)
	if len(state.TypingUsers) > 0 {
		names := make([]string, 0, len(state.TypingUsers))
		for _, u := range state.TypingUsers {
			names = append(names, u.Username)
		}
		fmt.Printf("typing: %s\n", strings.Join(names, ", "))
	}
}

// fetchToken trades a nickname for an anonymous bearer token at the
// broker's /token endpoint.
func fetchToken(server, nickname string) (string, error) {
	base, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "ws":
		base.Scheme = "http"
	case "wss":
		base.Scheme = "https"
	}
	base.Path = "/token"

	body, err := json.Marshal(map[string]string{"nickname": nickname})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(base.String(), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return out.Token, nil
}
