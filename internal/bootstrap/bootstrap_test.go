package bootstrap

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/conversation"
	"github.com/tokligence/lexia-stream/internal/ledger"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:          tmp,
		CentrifugoURL: "https://centrifugo.example.com/api",
		HTTPAddress:   ":9000",
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if !strings.Contains(string(settingBytes), "environment=dev") {
		t.Fatalf("missing environment: %s", settingBytes)
	}

	lexiaBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "lexia.ini"))
	if err != nil {
		t.Fatalf("read lexia.ini: %v", err)
	}
	content := string(lexiaBytes)
	for _, want := range []string{
		"centrifugo_url=https://centrifugo.example.com/api",
		"http_address=:9000",
		"dev_mode=false",
		"conversation_dsn=memory",
		"ledger_path=" + DefaultLedgerPath("dev"),
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("missing %q in %s", want, content)
		}
	}
}

func TestInitOutputLoadsBack(t *testing.T) {
	tmp := t.TempDir()
	for _, k := range []string{"LEXIA_DEV_MODE", "LEXIA_ENV", "LEXIA_LOG_FILE", "LEXIA_CONVERSATION_DSN"} {
		t.Setenv(k, "")
	}
	if err := Init(InitOptions{Root: tmp, Environment: "staging", DevMode: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.LoadConfig(tmp)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Environment != "staging" || !cfg.DevMode {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.ConversationDSN != "memory" || cfg.LogFile != "logs/lexiad.log" {
		t.Fatalf("unexpected stores/log config %#v", cfg)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(InitOptions{CentrifugoURL: "centrifugo:8000"}); err == nil {
		t.Fatalf("expected invalid url error")
	}
	if err := Validate(InitOptions{Environment: "../prod"}); err == nil {
		t.Fatalf("expected invalid environment error")
	}
	if err := Validate(InitOptions{CentrifugoURL: "http://localhost:8000/api"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenLedgerSQLite(t *testing.T) {
	if store, err := OpenLedger(config.Config{}, nil); err != nil || store != nil {
		t.Fatalf("empty path should disable the ledger: %v %v", store, err)
	}

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenLedger(config.Config{LedgerPath: path}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	ctx := context.Background()
	if err := store.Record(ctx, ledger.Entry{ResponseUUID: "r1", ThreadID: "t1", TotalTokens: 3, Status: ledger.StatusCompleted}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("ledger file not created: %v", err)
	}
}

func TestOpenConversations(t *testing.T) {
	if store, err := OpenConversations(config.Config{}); err != nil || store != nil {
		t.Fatalf("empty dsn should disable history: %v %v", store, err)
	}

	mem, err := OpenConversations(config.Config{ConversationDSN: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := mem.(*conversation.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", mem)
	}

	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenConversations(config.Config{ConversationDSN: "sqlite://" + path})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Append(ctx, conversation.Message{ThreadID: "t", Role: conversation.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	msgs, err := store.History(ctx, "t", 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("History: %v %v", msgs, err)
	}
}
