package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func tableCmd(cfgPath *string) *cobra.Command {
	var (
		variant     string
		handledOnly bool
	)

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the effective packet table of a variant",
		Long: `Table builds the registry exactly as connect would (embedded table,
handlers, Lua packets, overrides) and prints every opcode with its length
and whether a handler is bound.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("variant") {
				cfg.Server.Variant = variant
			}

			sess, err := newSession(cfg, sessionOptions{
				buf:  net.NewBuffer(0, 0),
				conn: discard{},
			}, zap.NewNop())
			if err != nil {
				return err
			}
			defer sess.close()

			reg := sess.registry
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPCODE\tNAME\tLENGTH\tHANDLER\tMIN VERSION")
			for _, op := range reg.Opcodes() {
				info, _ := reg.Lookup(op)
				if handledOnly && info.Handler == nil {
					continue
				}
				length := fmt.Sprint(info.Length)
				if info.Length < 0 {
					length = "var"
				}
				handled := "-"
				if info.Handler != nil {
					handled = "yes"
				}
				minVer := "-"
				if info.MinVersion > 0 {
					minVer = fmt.Sprint(info.MinVersion)
				}
				fmt.Fprintf(w, "0x%04x\t%s\t%s\t%s\t%s\n", op, info.Name, length, handled, minVer)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println()
			printStat("協定", sess.variant)
			printStat("封包定義", reg.Len())
			printStat("處理器", reg.Handled())
			for _, r := range sess.rejected {
				printWarn(fmt.Sprintf("覆寫被拒絕 %s 0x%04x: %v", r.Action, r.Opcode, r.Err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "protocol variant: ea, eathena or tmwa")
	cmd.Flags().BoolVar(&handledOnly, "handled", false, "only list opcodes with a handler")
	return cmd
}
