package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"cosmosai/internal/domain"
	"cosmosai/internal/ports"
)

// printLeads writes one lead, or every lead when id is empty.
func printLeads(ctx context.Context, w io.Writer, reader ports.LeadReader, id string, asJSON bool) error {
	var records []domain.Lead
	if id != "" {
		lead, err := reader.Lead(ctx, id)
		if err != nil {
			return fmt.Errorf("lead %s: %w", id, err)
		}
		records = []domain.Lead{lead}
	} else {
		all, err := reader.Leads(ctx)
		if err != nil {
			return err
		}
		records = all
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if id != "" {
			return enc.Encode(records[0])
		}
		if records == nil {
			records = []domain.Lead{}
		}
		return enc.Encode(records)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No leads captured.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMOBILE\tCREATED\tDESCRIPTION")
	for _, lead := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			lead.ID, lead.Name, lead.Mobile, lead.CreatedAt.UTC().Format(time.RFC3339), lead.Description)
	}
	return tw.Flush()
}
