package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/manaplus/manaplus-net/internal/persist"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func diagCmd(cfgPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Show unhandled opcodes and the last desync from the diagnostics store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			db, repo, err := persist.OpenDiag(ctx, cfg.Database, zap.NewNop())
			if err != nil {
				return err
			}
			defer db.Close()

			printSection("未處理封包 (" + cfg.Server.Variant + ")")
			top, err := repo.TopUnhandled(ctx, cfg.Server.Variant, limit)
			if err != nil {
				return err
			}
			if len(top) == 0 {
				printOK("無")
			}
			for _, c := range top {
				printStat(fmt.Sprintf("0x%04x", c.Opcode),
					fmt.Sprintf("%s 次 / %s", humanize.Comma(c.Seen), humanize.Bytes(uint64(c.Bytes))))
			}

			fmt.Println()
			printSection("最近一次失去同步")
			last, err := repo.LastDesync(ctx, cfg.Server.Addr())
			if err != nil {
				return err
			}
			if last == nil {
				printOK("無")
				return nil
			}
			printStat("時間", humanize.Time(last.At))
			printStat("封包", fmt.Sprintf("0x%04x", last.Opcode))
			printStat("長度", last.Length)
			fmt.Print(hex.Dump(last.Dump))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of opcodes to list")
	return cmd
}
