package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/handoff"
	"github.com/deskagent/deskagent/internal/statusbus"
	"github.com/deskagent/deskagent/internal/supervisor"
)

const configFileName = "DeskServer.json"

func main() {
	hide := flag.Bool("hide", false, "suppress the visible control window")
	flag.Parse()

	defer recoverToCrashNote()

	workDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to resolve working directory: %v", err)
	}
	configPath := filepath.Join(workDir, configFileName)

	sysLog := agentlog.New("deskagent", os.Stderr)
	if logPath := os.Getenv("DESKAGENT_LOG_FILE"); logPath != "" {
		if err := sysLog.SetFile(logPath); err != nil {
			sysLog.Warningf("failed to open log file %s: %v", logPath, err)
		}
	}

	sysLog.Infof("starting deskagent, hide=%v, config=%s", *hide, configPath)

	guard := handoff.NewSingleInstanceGuard()
	acquired, err := guard.Acquire()
	if err != nil {
		sysLog.Errorf("single-instance guard: %v", err)
		os.Exit(1)
	}
	if !acquired {
		// Spec §6/§7: a second instance exits silently, matching the
		// original's checkSingleInstance behaviour.
		return
	}
	defer guard.Release()

	bus := statusbus.New()

	sup, err := supervisor.New(configPath, bus, sysLog.WithComponent("supervisor"))
	if err != nil {
		sysLog.Errorf("failed to initialize supervisor: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := os.Getenv("DESKAGENT_STATUS_ADDR"); addr != "" {
		startStatusServer(addr, bus, sysLog.WithComponent("statusbus"))
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sup.Run(ctx); err != nil {
			sysLog.Errorf("supervisor exited with error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	sysLog.Infof("shutdown signal received, stopping deskagent")
	cancel()
	<-runDone
	sysLog.Infof("deskagent stopped")
}

// startStatusServer serves the one-way WebSocket status feed for a sibling
// tray/GUI process (spec §4.8) on addr exactly as given; the listener is
// loopback-only only when addr names a loopback host. It is opt-in via an
// environment variable since the CLI surface itself names only --hide.
func startStatusServer(addr string, bus *statusbus.Bus, log *agentlog.Logger) {
	handler := statusbus.NewHandler(bus, log)
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		log.Infof("status feed listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil {
			log.Warningf("status feed stopped: %v", err)
		}
	}()
}

// recoverToCrashNote is the top-level panic handler: it writes a small
// crash note alongside the executable before exiting, standing in for the
// original's MiniDumpWriteDump/MyUnhandledExceptionFilter in a
// platform-portable way (spec §7).
func recoverToCrashNote() {
	r := recover()
	if r == nil {
		return
	}

	note := fmt.Sprintf("deskagent crashed: %v\n\n%s", r, debug.Stack())
	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), "deskagent-crash.log")
		os.WriteFile(path, []byte(note), 0o644)
	}
	fmt.Fprintln(os.Stderr, note)
	os.Exit(1)
}
