package report

import (
	"fmt"
	"io"
	"time"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	SheetTransitions = "Transitions"
	SheetSummary     = "Summary"
)

var transitionHeader = []interface{}{"Seq", "From", "To", "Forced", "Source", "Reason", "Timestamp"}

// Generator writes session transition logs as XLSX workbooks
type Generator struct {
	logger *zap.Logger
}

// NewGenerator creates a workbook generator
func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{logger: logger}
}

// Write renders the workbook for one session to w
func (g *Generator) Write(w io.Writer, sessionID string, transitions []conversation.Transition, until time.Time) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			g.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetTransitions); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := g.writeTransitions(f, transitions, bold); err != nil {
		return err
	}
	if err := g.writeSummary(f, sessionID, Summarize(transitions, until), bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	g.logger.Info("Session report generated",
		zap.String("session_id", sessionID),
		zap.Int("transitions", len(transitions)))
	return nil
}

func (g *Generator) writeTransitions(f *excelize.File, transitions []conversation.Transition, headerStyle int) error {
	if err := f.SetSheetRow(SheetTransitions, "A1", &transitionHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(SheetTransitions, "A1", "G1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, t := range transitions {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			t.Seq,
			t.From.String(),
			t.To.String(),
			t.Forced(),
			t.Source(),
			t.Reason(),
			t.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := f.SetSheetRow(SheetTransitions, cell, &row); err != nil {
			return fmt.Errorf("failed to write transition %d: %w", t.Seq, err)
		}
	}

	if err := f.SetColWidth(SheetTransitions, "B", "F", 18); err != nil {
		return err
	}
	return f.SetColWidth(SheetTransitions, "G", "G", 32)
}

func (g *Generator) writeSummary(f *excelize.File, sessionID string, sum Summary, headerStyle int) error {
	g.setCell(f, SheetSummary, "A1", "Session")
	g.setCell(f, SheetSummary, "B1", sessionID)
	g.setCell(f, SheetSummary, "A2", "Transitions")
	g.setCell(f, SheetSummary, "B2", sum.Transitions)
	g.setCell(f, SheetSummary, "A3", "Forced")
	g.setCell(f, SheetSummary, "B3", sum.Forced)
	g.setCell(f, SheetSummary, "A4", "Interruptions")
	g.setCell(f, SheetSummary, "B4", sum.Interruptions)

	header := []interface{}{"State", "Entries", "Seconds"}
	if err := f.SetSheetRow(SheetSummary, "A6", &header); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}
	if err := f.SetCellStyle(SheetSummary, "A6", "C6", headerStyle); err != nil {
		return err
	}

	for i, st := range sum.States {
		cell, err := excelize.CoordinatesToCellName(1, i+7)
		if err != nil {
			return err
		}
		row := []interface{}{st.State.String(), st.Entries, st.Duration.Seconds()}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("failed to write state %s: %w", st.State, err)
		}
	}
	return f.SetColWidth(SheetSummary, "A", "B", 20)
}

func (g *Generator) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		g.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}
