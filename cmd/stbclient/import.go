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

var importCmd = &cobra.Command{
	Use:   "import <local_store> <csv_file>",
	Short: "Append every row of csv_file to the local store as pending-new rows",
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

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		added := 0
		for {
			fields, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}
			line, err := csvtable.JoinLine(fields)
			if err != nil {
				return fmt.Errorf("encode row: %w", err)
			}
			doc.NewRows = append(doc.NewRows, &localstore.PendingRow{Data: line})
			added++
		}

		if err := doc.Save(storePath); err != nil {
			return fmt.Errorf("save local store: %w", err)
		}
		fmt.Printf("imported %d row(s) as pending\n", added)
		return nil
	},
}
