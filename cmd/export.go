package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/stancelab/hansard-cli/internal/aggregate"
	"github.com/stancelab/hansard-cli/internal/ledger"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export aggregate statistics to an XLSX workbook",
	Long: `Builds a workbook with one sheet per topic. Each sheet lists every
scored member with their relevant speech count and average stance score.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("output", "stance_summary.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	outputPath, _ := cmd.Flags().GetString("output")

	topicDir := filepath.Join(cfg.Paths.ClientDir(), "topics")
	memberDir := filepath.Join(cfg.Paths.ClientDir(), "mks")

	entries, err := os.ReadDir(topicDir)
	if err != nil {
		return eris.Wrapf(err, "export: read topic directory %s", topicDir)
	}

	wb := xlsx.NewFile()
	sheets := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		topic := strings.TrimSuffix(entry.Name(), ".json")

		doc, err := ledger.NewFile[aggregate.TopicDoc](filepath.Join(topicDir, entry.Name())).Load()
		if err != nil {
			return err
		}
		if len(doc) == 0 {
			continue
		}

		if err := addTopicSheet(wb, memberDir, topic, doc); err != nil {
			return err
		}
		sheets++
	}

	if sheets == 0 {
		fmt.Println("No aggregate documents found; nothing to export.")
		return nil
	}

	if err := wb.Save(outputPath); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", outputPath)
	}
	fmt.Printf("Exported %d topic sheet(s) to %s\n", sheets, outputPath)
	return nil
}

func addTopicSheet(wb *xlsx.File, memberDir, topic string, doc aggregate.TopicDoc) error {
	sheet, err := wb.AddSheet(topic)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %q", topic)
	}

	header := sheet.AddRow()
	for _, title := range []string{"Member ID", "Member", "Speeches", "Average Stance"} {
		header.AddCell().SetString(title)
	}

	ids := make([]int, 0, len(doc))
	for key := range doc {
		id, err := strconv.Atoi(key)
		if err != nil {
			return eris.Wrapf(err, "export: topic %q has member key %q", topic, key)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		stats := doc[strconv.Itoa(id)]
		row := sheet.AddRow()
		row.AddCell().SetInt(id)
		row.AddCell().SetString(memberName(memberDir, id))
		row.AddCell().SetInt(int(stats[0]))
		row.AddCell().SetFloat(stats[1])
	}
	return nil
}

// memberName reads the member's aggregate document for display purposes,
// falling back to the numeric id.
func memberName(memberDir string, id int) string {
	doc, err := ledger.NewFile[*aggregate.MemberDoc](
		filepath.Join(memberDir, strconv.Itoa(id), "main.json")).Load()
	if err != nil || doc == nil || doc.Name == "" {
		return strconv.Itoa(id)
	}
	return doc.Name
}
