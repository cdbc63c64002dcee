// Command example drives an editing session against a running canvasd:
// it builds a small agent workflow, saves, exports, runs it, and plays the
// execution engine by posting run events back to the server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/client"
	"github.com/meikuraledutech/canvas/config"
	"github.com/meikuraledutech/canvas/exchange"
	"github.com/meikuraledutech/canvas/notify"
	"github.com/meikuraledutech/canvas/observability"
	"github.com/meikuraledutech/canvas/session"
	"github.com/meikuraledutech/canvas/stream"
)

func main() {
	ctx := context.Background()

	v, err := config.NewViper(os.Getenv("CANVAS_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := observability.NewLogger(cfg.Logger)
	defer observability.Sync(logger)

	api := client.New(cfg.Client.BaseURL,
		client.WithToken(cfg.Client.Token),
		client.WithTimeout(cfg.Client.Timeout),
		client.WithLogger(logger))
	sub, err := stream.New(cfg.Client.StreamURL, stream.WithToken(cfg.Client.Token), stream.WithLogger(logger))
	if err != nil {
		log.Fatalf("stream: %v", err)
	}

	sess, err := session.New(api, sub,
		session.WithConfig(cfg.Editor),
		session.WithNotifier(notify.NewLog(logger)),
		session.WithLogger(logger))
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	// ── Create ────────────────────────────────────────────────────────
	doc, err := sess.Create(ctx, "demo-project", "Research pipeline", "agent + search tool")
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	fmt.Println("canvas created:", doc.ID)

	// ── Edit ──────────────────────────────────────────────────────────
	store := sess.Store()
	now := time.Now()

	agentCfg := canvas.DefaultAgentConfig()
	agentCfg.Role = "Researcher"
	agentCfg.Tools = []string{"search"}
	agent, err := canvas.NewAgentNode(canvas.NewNodeID(canvas.NodeAgent, now), "Researcher", canvas.Position{X: 100, Y: 100}, agentCfg)
	if err != nil {
		log.Fatalf("agent node: %v", err)
	}
	tool, err := canvas.NewToolNode(canvas.NewNodeID(canvas.NodeTool, now.Add(time.Millisecond)), "Web search",
		canvas.Position{X: 400, Y: 100}, canvas.DefaultToolConfig())
	if err != nil {
		log.Fatalf("tool node: %v", err)
	}

	must(store.AddNode(agent))
	sess.Checkpoint()
	must(store.AddNode(tool))
	sess.Checkpoint()
	if _, err := store.Connect(agent.ID, tool.ID); err != nil {
		log.Fatalf("connect: %v", err)
	}
	sess.Checkpoint()
	fmt.Printf("graph: %+v\n", store.Stats())

	// ── Undo / redo ───────────────────────────────────────────────────
	store.MoveNode(tool.ID, canvas.Position{X: 420, Y: 180})
	sess.Checkpoint()
	sess.Undo()
	moved, _ := store.Graph().Node(tool.ID)
	fmt.Println("after undo, tool at", moved.Position)
	sess.Redo()
	moved, _ = store.Graph().Node(tool.ID)
	fmt.Println("after redo, tool at", moved.Position)

	// ── Save ──────────────────────────────────────────────────────────
	if err := sess.Save(ctx); err != nil {
		log.Fatalf("save: %v", err)
	}

	// ── Export / import ───────────────────────────────────────────────
	name := exchange.FileName(doc.Name)
	f, err := os.Create(name)
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	if err := sess.Export(f); err != nil {
		log.Fatalf("export: %v", err)
	}
	f.Close()
	fmt.Println("exported to", name)

	f, err = os.Open(name)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	imported, err := sess.Import(f)
	f.Close()
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	fmt.Println("imported", imported.Metadata.Name, "exported at", imported.ExportedAt().Format(time.RFC3339))

	// ── Execute ───────────────────────────────────────────────────────
	mon := sess.Monitor()
	changed := make(chan struct{}, 16)
	mon.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	run, err := sess.Run(ctx)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	fmt.Println("run started:", run.ID)

	// stand in for the execution engine
	elapsed := 1.2
	must(api.PostEvent(ctx, run.ID, canvas.Event{Type: canvas.EventLog, Message: "Researcher: searching the web"}))
	must(api.PostEvent(ctx, run.ID, canvas.Event{Type: canvas.EventStatusUpdate, Status: canvas.StatusCompleted,
		ExecutionTime: &elapsed, OutputData: json.RawMessage(`{"summary":"done"}`)}))

	deadline := time.After(10 * time.Second)
	for mon.IsExecuting() {
		select {
		case <-changed:
		case <-deadline:
			log.Fatal("run did not finish")
		}
	}
	cur, _ := mon.Current()
	fmt.Println("run finished:", cur.Status)
	for _, entry := range mon.Logs() {
		fmt.Println("  log:", entry.Message)
	}

	// ── History ───────────────────────────────────────────────────────
	runs, err := mon.LoadExecutionHistory(ctx, doc.ID)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	printJSON(runs)

	// ── Cleanup ───────────────────────────────────────────────────────
	_ = os.Remove(name)
	sess.Close()
	if err := api.DeleteCanvas(ctx, doc.ID); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("canvas deleted")
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
