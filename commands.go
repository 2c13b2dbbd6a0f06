package main

import (
	"context"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// --- Commands ---
//
// Every blocking call leaves the Update loop here, with its own deadline.

const (
	storeTimeout   = 10 * time.Second
	chatTimeout    = 60 * time.Second
	syncTimeout    = 5 * time.Minute
	summaryTimeout = 90 * time.Second
)

func loadRecordsCmd(store RecordStore, table string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		records, err := store.List(ctx)
		if err != nil {
			log.Printf("list %s failed: %v", table, err)
		} else {
			log.Printf("loaded %d rows from %s", len(records), table)
		}
		return recordsLoadedMsg{table: table, records: records, err: err}
	}
}

func updateCellCmd(store RecordStore, table string, key CellKey, value string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		rec, err := store.Update(ctx, key.RecordID, key.Field, value)
		if err != nil {
			log.Printf("update %s %s.%s failed: %v", table, key.RecordID, key.Field, err)
		}
		return cellSavedMsg{table: table, key: key, record: rec, err: err}
	}
}

func createRowCmd(store RecordStore, table string, fields map[string]string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		rec, err := store.Create(ctx, fields)
		if err != nil {
			log.Printf("create in %s failed: %v", table, err)
		}
		return rowCreatedMsg{table: table, record: rec, err: err}
	}
}

func deleteRowCmd(store RecordStore, table, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		err := store.Delete(ctx, id)
		if err != nil {
			log.Printf("delete %s %s failed: %v", table, id, err)
		}
		return rowDeletedMsg{table: table, id: id, err: err}
	}
}

func sendChatCmd(client ChatClient, req ChatRequest, id int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
		defer cancel()

		reply, err := client.Send(ctx, req)
		if err != nil {
			log.Printf("chat request for session %s failed: %v", req.SessionID, err)
		}
		return chatReplyMsg{id: id, reply: reply, err: err}
	}
}

func revealTickCmd(id int, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return revealTickMsg{id: id}
	})
}

func syncIndexCmd(backend assistantBackend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		n, err := backend.SyncKnowledge(ctx)
		return indexSyncedMsg{chunks: n, err: err}
	}
}

func summaryCmd(backend assistantBackend, language string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()

		text, err := backend.Summary(ctx, language)
		return summaryLoadedMsg{language: language, text: text, err: err}
	}
}

func forgetSessionCmd(backend assistantBackend, sessionID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		err := backend.ForgetSession(ctx, sessionID)
		return sessionForgottenMsg{id: sessionID, err: err}
	}
}
