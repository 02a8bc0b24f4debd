package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/peerviser/peerviser/pkg/client"
)

// api_client: talk to a running `peerviser serve` over its control API.
// Point PEERVISER_API at the server (default http://127.0.0.1:8085/api).
func main() {
	base := os.Getenv("PEERVISER_API")
	if base == "" {
		base = "http://127.0.0.1:8085/api"
	}
	c := client.New(client.Config{BaseURL: base})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !c.IsReachable(ctx) {
		fmt.Println("supervisor not reachable at", base, "- run `peerviser serve` first")
		os.Exit(1)
	}

	statuses, err := c.StatusAll(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println("Daemons:")
	for _, st := range statuses {
		fmt.Printf("  %-5s state=%s", st.Daemon, st.State)
		if st.Error != "" {
			fmt.Printf(" err=%s", st.Error)
		}
		fmt.Println()
	}

	records, err := c.Registry(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println("Registry:")
	for name, rec := range records {
		fmt.Printf("  %-5s mode=%-8s api=%s msg=%q\n", name, rec.Mode, rec.APIURL, rec.DisplayMessage())
	}
}
