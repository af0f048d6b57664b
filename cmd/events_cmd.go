package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Record and inspect episodic events",
	}
	cmd.AddCommand(eventsRecordCmd())
	cmd.AddCommand(eventsListCmd())
	cmd.AddCommand(eventsWatchCmd())
	return cmd
}

func eventsRecordCmd() *cobra.Command {
	var (
		eventType string
		agentID   string
		agentType string
		meta      map[string]string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an episodic event",
		Run: func(cmd *cobra.Command, args []string) {
			runEventsRecord(eventType, agentID, agentType, meta)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type: spawn, complete or error")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent identifier")
	cmd.Flags().StringVar(&agentType, "agent-type", "", "agent kind (optional)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value pairs")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func runEventsRecord(eventType, agentID, agentType string, meta map[string]string) {
	if err := store.ValidateEventType(eventType); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if err := store.ValidateAgentID(agentID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ev := store.EpisodicEvent{
		ID:        store.GenNewID().String(),
		EventType: eventType,
		AgentID:   agentID,
		AgentType: agentType,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.RecordEvent(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "Error recording event: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recorded %s event %s\n", eventType, ev.ID)
}

func eventsListCmd() *cobra.Command {
	var hours int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent events, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			runEventsList(hours, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "trailing window in hours")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runEventsList(hours int, jsonOutput bool) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events, err := st.EventsWithin(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(events, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(events) == 0 {
		fmt.Println("No events in window.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tTYPE\tAGENT\tMETADATA\n")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime),
			ev.EventType,
			truncateCell(ev.AgentID, 24),
			truncateCell(formatMeta(ev.Metadata), 48),
		)
	}
	tw.Flush()
}

func formatMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, " ")
}

func eventsWatchCmd() *cobra.Command {
	var serverURL string
	var token string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the live event feed from a serve instance",
		Run: func(cmd *cobra.Command, args []string) {
			runEventsWatch(serverURL, token)
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server URL (default from serve.addr)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default from serve.auth_token)")
	return cmd
}

func runEventsWatch(serverURL, token string) {
	cfg := loadConfig()
	if serverURL == "" {
		serverURL = "ws://" + cfg.Serve.Addr
	}
	if token == "" {
		resolved, err := cfg.AuthToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving auth token: %s\n", err)
			os.Exit(1)
		}
		token = resolved
	}

	wsURL := strings.NewReplacer("http://", "ws://", "https://", "wss://").Replace(serverURL)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws"

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to %s: %s\n", wsURL, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", wsURL)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintf(os.Stderr, "Connection lost: %s\n", err)
				os.Exit(1)
			}
			return
		case data := <-frames:
			printEventFrame(data)
		}
	}
}

func printEventFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil || frameType != protocol.FrameTypeEvent {
		return
	}
	var frame protocol.EventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	payload := ""
	if frame.Payload != nil {
		raw, _ := json.Marshal(frame.Payload)
		payload = string(raw)
	}
	fmt.Printf("%s  %-20s %s\n", time.Now().Format("15:04:05"), frame.Event, payload)
}
