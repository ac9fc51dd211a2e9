package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/csvtable"
	"github.com/shtable/stbsync/internal/localstore"
)

var updateCmd = &cobra.Command{
	Use:   "update <local_store> <csv_file>",
	Short: "Replace local store rows positionally from csv_file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storePath, csvPath := args[0], args[1]

		doc, err := localstore.Load(storePath, localstore.Repository{}, "")
		if err != nil {
			return fmt.Errorf("load local store: %w", err)
		}

		f, err := os.Open(csvPath)
		if err != nil {
			return fmt.Errorf("open csv file: %w", err)
		}
		defer f.Close()

		table := csvtable.New(doc, doc.Format)
		if _, err := table.Reader(); err != nil {
			return fmt.Errorf("snapshot current rows: %w", err)
		}
		writer, err := table.Writer()
		if err != nil {
			return fmt.Errorf("open positional writer: %w", err)
		}

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		written := 0
		for {
			fields, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}
			if err := writer.Write(fields); err != nil {
				return fmt.Errorf("apply row %d: %w", written, err)
			}
			written++
		}

		if err := doc.Save(storePath); err != nil {
			return fmt.Errorf("save local store: %w", err)
		}
		fmt.Printf("updated %d row(s)\n", written)
		return nil
	},
}
