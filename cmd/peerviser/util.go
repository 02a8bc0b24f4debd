package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/peerviser/peerviser"
	"github.com/peerviser/peerviser/pkg/client"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printStatusTable(w io.Writer, sts []client.DaemonStatus, snap map[string]client.RegistryRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DAEMON\tSTATE\tMODE\tAPI\tMESSAGE")
	for _, st := range sts {
		rec := snap[st.Daemon]
		msg := rec.DisplayMessage()
		if msg == "" {
			msg = st.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Daemon, st.State, rec.Mode, rec.APIURL, msg)
	}
	_ = tw.Flush()
}

func printCheckTable(w io.Writer, defs []*peerviser.Definition) (missing, total int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DAEMON\tBINARY\tSTATUS")
	for _, def := range defs {
		paths := []string{def.BinaryPath()}
		if def.HasGateway() {
			paths = append(paths, def.GatewayBinaryPath())
		}
		for _, p := range paths {
			total++
			status := "ok"
			if !binaryPresent(p) {
				status = "missing"
				missing++
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", def.Name, p, status)
		}
	}
	_ = tw.Flush()
	return missing, total
}

func binaryPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
