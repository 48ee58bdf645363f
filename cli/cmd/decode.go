package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/render"
	"github.com/justapithecus/mosaic/format"
	"github.com/justapithecus/mosaic/ipc"
	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/types"
)

// DecodedScan is one decode result row. Payload bytes are not rendered;
// the length stands in for them.
type DecodedScan struct {
	Protocol   string `json:"protocol"`
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total_chunks"`
	PayloadLen int64  `json:"payload_len"`
	Filename   string `json:"filename,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DecodeCommand returns the decode command: run scan payloads through
// the format decoder without touching any session or store. Useful for
// checking what a QR payload would do before ingesting it.
func DecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode scan payloads without ingesting them",
		ArgsUsage: "[payload ...] (no args reads lines from stdin)",
		Flags: []cli.Flag{
			FormatFlag,
			NoColorFlag,
			TUIFlag,
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Reject scans with malformed payload encoding",
			},
		},
		Action: decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for decode", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	decoder := format.NewDecoder(format.Config{
		StrictBytes: c.Bool("strict"),
	}, log.NewLogger("decode"))

	var results []DecodedScan
	decode := func(raw string) error {
		chunk, err := decoder.Decode(raw)
		if err != nil {
			results = append(results, DecodedScan{Error: err.Error()})
			return nil
		}
		results = append(results, decodedScan(chunk))
		return nil
	}

	if c.NArg() == 0 {
		if err := ipc.FeedLines(c.Context, os.Stdin, decode); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	} else {
		for _, raw := range c.Args().Slice() {
			if err := decode(raw); err != nil {
				return cli.Exit(err.Error(), 1)
			}
		}
	}

	if err := r.Render(results); err != nil {
		return err
	}
	for _, res := range results {
		if res.Error != "" {
			return cli.Exit("", 1)
		}
	}
	return nil
}

func decodedScan(chunk *types.NormalizedChunk) DecodedScan {
	return DecodedScan{
		Protocol:   chunk.ProtocolTag,
		Kind:       string(chunk.Kind),
		SessionID:  chunk.SessionID,
		Index:      chunk.Index,
		Total:      chunk.TotalChunks,
		PayloadLen: chunk.PayloadLen(),
		Filename:   chunk.DeclaredFilename,
		Checksum:   chunk.Checksum,
	}
}
