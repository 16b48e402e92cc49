package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/x33x-chat/client/activity"
	"github.com/x33x-chat/client/config"
	"github.com/x33x-chat/client/connector"
	"github.com/x33x-chat/client/entry"
	"github.com/x33x-chat/client/logging"
	"github.com/x33x-chat/client/model"
	"github.com/x33x-chat/client/roomapi"
	"github.com/x33x-chat/client/session"
)

const closedRedirectDelay = 3 * time.Second

func main() {
	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configPath = fs.String("config-path", ".", "config file directory")
		configName = fs.String("config-name", "x33x", "config file name without extension")
		serverAddr = fs.StringP("server-addr", "s", "", "websocket server address")
		apiAddr    = fs.StringP("api-addr", "a", "", "http api address")
		roomCode   = fs.StringP("room", "r", "", "room code to join")
		username   = fs.StringP("name", "n", "", "username")
		create     = fs.BoolP("create", "c", false, "create a new room and host it")
		logLevel   = fs.StringP("log-level", "l", "", "log level")
		dumpEvents = fs.Bool("dump-events", false, "dump session updates at trace level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg, err := config.Load(*configPath, *configName)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	if *username == "" {
		logger.Fatal().Msg("--name is required")
	}
	if !*create && *roomCode == "" {
		logger.Fatal().Msg("either --create or --room is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := roomapi.New(cfg.APIAddr, &logger)
	if err = api.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("server looks down, trying anyway")
	}

	connCfg := connector.Config{
		Logger:      &logger,
		DialTimeout: cfg.Session.ConnectTimeout,
	}
	entryCfg := entry.Config{Logger: &logger, Connector: connCfg}

	var code string
	if *create {
		code, err = entry.CreateRoom(ctx, cfg.ServerAddr, *username, entryCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create room")
		}
		fmt.Printf("room created, share this code: %s\n", code)
	} else {
		code, err = entry.Join(ctx, cfg.ServerAddr, *roomCode, *username, entryCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to join room")
		}
	}

	sess, err := session.New(session.Config{
		Logger:            &logger,
		ServerAddr:        cfg.ServerAddr,
		APIAddr:           cfg.APIAddr,
		RoomCode:          code,
		Username:          *username,
		IsHost:            *create,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		PollInterval:      cfg.Session.PollInterval,
		CheckInterval:     cfg.Session.CheckInterval,
		WarningWindow:     cfg.Session.WarningWindow,
		ServerTimeout:     cfg.Session.ServerTimeout,
		Connector:         connCfg,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble session")
	}

	errc := make(chan error, 1)
	go func() {
		errc <- sess.Run(ctx)
	}()

	go renderUpdates(ctx, cancel, sess, &logger, *username, *dumpEvents)
	go readInput(ctx, cancel, sess, &logger, *create)

	select {
	case err = <-errc:
		if err != nil {
			logger.Error().Err(err).Msg("session failed")
		}
	case <-ctx.Done():
		sess.Leave()
		<-errc
	}
}

func renderUpdates(
	ctx context.Context,
	cancel context.CancelFunc,
	sess *session.Session,
	logger *zerolog.Logger,
	username string,
	dumpEvents bool,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-sess.Updates():
			if dumpEvents {
				logger.Trace().Msg(spew.Sdump(u))
			}
			renderUpdate(u, username, cancel)
		}
	}
}

func renderUpdate(u session.Update, username string, cancel context.CancelFunc) {
	switch u.Kind {
	case session.UpdateConnState:
		fmt.Printf("* %s\n", u.ConnState)
	case session.UpdateRoster:
		names := make([]string, 0, len(u.Roster))
		for _, user := range u.Roster {
			name := user.Username
			if user.IsHost {
				name += " (host)"
			}
			names = append(names, name)
		}
		fmt.Printf("* in the room: %s\n", strings.Join(names, ", "))
	case session.UpdateMessage:
		printMessage(u.Message, username)
	case session.UpdateCountdown:
		renderCountdown(u.Countdown)
	case session.UpdateClosed:
		fmt.Printf("* room closed: %s\n", closedText(u.Reason))
		time.AfterFunc(closedRedirectDelay, cancel)
	case session.UpdateError:
		fmt.Printf("* error: %v\n", u.Err)
	}
}

func renderCountdown(status activity.Status) {
	if !status.CountdownActive {
		fmt.Println("* room is active again")
		return
	}
	fmt.Printf("* room closing in %ds unless someone says something\n", status.SecondsRemaining)
}

func printMessage(msg model.Message, username string) {
	marker := " "
	if msg.Username == username {
		marker = ">"
	}
	host := ""
	if msg.IsHost {
		host = "*"
	}
	fmt.Printf("%s [%s] %s%s: %s\n",
		marker, msg.Timestamp.Format("15:04:05"), host, msg.Username, msg.Text)
}

func closedText(reason model.CloseReason) string {
	switch reason {
	case model.ReasonInactivity:
		return "closed for inactivity"
	case model.ReasonHostClosed:
		return "closed by the host"
	case model.ReasonRoomNotFound:
		return "room no longer exists"
	}
	return "closed"
}

func readInput(
	ctx context.Context,
	cancel context.CancelFunc,
	sess *session.Session,
	logger *zerolog.Logger,
	isHost bool,
) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "":
			sess.TouchInput()
		case "/quit":
			cancel()
			return
		case "/close":
			if !isHost {
				fmt.Println("* only the host can close the room")
				continue
			}
			if err := sess.RequestClose(); err != nil {
				logger.Error().Err(err).Msg("close request failed")
			}
		default:
			if err := sess.SendMessage(line); err != nil {
				fmt.Printf("* not sent: %v\n", err)
			}
		}
	}
	cancel()
}
