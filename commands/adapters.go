package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/route"
	"github.com/signalmesh/signalmesh/signal"
)

// registerAdapters binds the built-in platform adapters. They run in
// dry-run mode: each call is logged and answered with a synthetic
// resource reference instead of hitting a real API. Real platform
// clients replace individual registrations without touching the router.
func registerAdapters(r *route.Router, logger *slog.Logger) {
	taskAdapter := func(ctx context.Context, d *signal.Decision) (any, error) {
		p := d.Params.CreateTask
		if p == nil || p.Title == "" {
			return nil, fmt.Errorf("invalid_request: create_task needs a title")
		}
		logger.Info("Creating task",
			"platform", p.Platform, "title", p.Title, "assignee", p.Assignee)
		return map[string]string{"task_id": uuid.NewString(), "title": p.Title}, nil
	}
	r.Register(signal.ActionCreateTask, "notion", taskAdapter)
	r.Register(signal.ActionCreateTask, "trello", taskAdapter)

	r.Register(signal.ActionSendNotification, "chat", func(ctx context.Context, d *signal.Decision) (any, error) {
		p := d.Params.SendNotification
		if p == nil || p.Channel == "" || p.Message == "" {
			return nil, fmt.Errorf("invalid_request: send_notification needs channel and message")
		}
		logger.Info("Sending notification", "channel", p.Channel, "bytes", len(p.Message))
		return map[string]string{"message_id": uuid.NewString(), "channel": p.Channel}, nil
	})

	r.Register(signal.ActionUpdateSheet, "sheets", func(ctx context.Context, d *signal.Decision) (any, error) {
		p := d.Params.UpdateSheet
		if p == nil || p.SheetID == "" {
			return nil, fmt.Errorf("invalid_request: update_sheet needs a sheet id")
		}
		logger.Info("Updating sheet",
			"sheet_id", p.SheetID, "range", p.Range, "cells", len(p.Values))
		return map[string]any{"sheet_id": p.SheetID, "updated_cells": len(p.Values)}, nil
	})

	r.Register(signal.ActionFileDocument, "drive", func(ctx context.Context, d *signal.Decision) (any, error) {
		p := d.Params.FileDocument
		if p == nil || p.Name == "" {
			return nil, fmt.Errorf("invalid_request: file_document needs a name")
		}
		logger.Info("Filing document", "folder", p.Folder, "name", p.Name)
		return map[string]string{"file_id": uuid.NewString(), "folder": p.Folder}, nil
	})

	delegateAdapter := func(ctx context.Context, d *signal.Decision) (any, error) {
		p := d.Params.Delegate
		if p == nil || p.Recipient == "" {
			return nil, fmt.Errorf("invalid_request: delegate needs a recipient")
		}
		logger.Info("Delegating", "recipient", p.Recipient)
		return map[string]string{"delegation_id": uuid.NewString(), "recipient": p.Recipient}, nil
	}
	r.Register(signal.ActionDelegate, "chat", delegateAdapter)
	// Decisions that name no platform still route somewhere sensible.
	r.Register(signal.ActionDelegate, "", delegateAdapter)

	escalateAdapter := func(ctx context.Context, d *signal.Decision) (any, error) {
		p := d.Params.Escalate
		if p == nil || p.Target == "" {
			return nil, fmt.Errorf("invalid_request: escalate needs a target")
		}
		logger.Warn("Escalating", "target", p.Target, "reason", p.Reason)
		return map[string]string{"escalation_id": uuid.NewString(), "target": p.Target}, nil
	}
	r.Register(signal.ActionEscalate, "chat", escalateAdapter)
	r.Register(signal.ActionEscalate, "", escalateAdapter)
}
