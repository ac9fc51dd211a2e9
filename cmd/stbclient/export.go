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

var exportCmd = &cobra.Command{
	Use:   "export <local_store> <csv_file>",
	Short: "Write the local store's current snapshot to csv_file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storePath, csvPath := args[0], args[1]

		doc, err := localstore.Load(storePath, localstore.Repository{}, "")
		if err != nil {
			return fmt.Errorf("load local store: %w", err)
		}

		out, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("create csv file: %w", err)
		}
		defer out.Close()

		table := csvtable.New(doc, doc.Format)
		reader, err := table.Reader()
		if err != nil {
			return fmt.Errorf("open snapshot reader: %w", err)
		}
		reader.FieldsPerRecord = -1

		w := csv.NewWriter(out)
		written := 0
		for {
			fields, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("read row: %w", err)
			}
			if err := w.Write(fields); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
			written++
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush csv file: %w", err)
		}
		fmt.Printf("exported %d row(s)\n", written)
		return nil
	},
}
