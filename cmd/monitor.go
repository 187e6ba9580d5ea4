package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"

	"github.com/webitel/device-gateway-service/internal/queue"
	"github.com/webitel/device-gateway-service/internal/service/dto"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Live terminal dashboard over a running gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Base URL of the gateway",
				Value: "http://127.0.0.1:8090",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Refresh interval",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.String("addr"), c.Duration("interval"))
		},
	}
}

func runMonitor(baseURL string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: init terminal: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = " devices "
	table.RowSeparator = false
	table.SetRect(0, 0, 100, 14)

	status := widgets.NewParagraph()
	status.SetRect(0, 14, 100, 17)

	client := &http.Client{Timeout: 2 * time.Second}
	refresh := func() {
		rows, err := fetchRows(client, baseURL)
		if err != nil {
			status.Text = fmt.Sprintf("fetch failed: %v", err)
		} else {
			status.Text = fmt.Sprintf("%s  ·  refreshed %s  ·  press q to quit",
				baseURL, time.Now().Format("15:04:05"))
			table.Rows = rows
		}
		ui.Render(table, status)
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				refresh()
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func fetchRows(client *http.Client, baseURL string) ([][]string, error) {
	var devices []dto.DeviceInfo
	if err := getJSON(client, baseURL+"/api/v1/devices", &devices); err != nil {
		return nil, err
	}

	rows := [][]string{{"device", "state", "queued h/n/l", "processed", "errors", "reconnects"}}
	for _, d := range devices {
		var snap queue.Snapshot
		if err := getJSON(client, fmt.Sprintf("%s/api/v1/devices/%s/stats", baseURL, d.Name), &snap); err != nil {
			rows = append(rows, []string{d.Name, "unreachable", "-", "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			d.Name,
			d.State,
			fmt.Sprintf("%d/%d/%d", snap.HighQueued, snap.NormalQueued, snap.LowQueued),
			fmt.Sprintf("%d", snap.TotalProcessed),
			fmt.Sprintf("%d", snap.TotalErrors),
			fmt.Sprintf("%d", snap.ReconnectAttempts),
		})
	}
	return rows, nil
}

func getJSON(client *http.Client, url string, into any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
