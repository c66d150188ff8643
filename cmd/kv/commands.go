package kv

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rpcStore.Write(write.Put(cf, []byte(args[0]), []byte(args[1])))
			if err != nil {
				return err
			}
			fmt.Printf("put successfully (index=%d)\n", res.Index)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			resp, ok, err := rpcStore.Get(cf, []byte(key))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, resp=%s\n", key, ok, resp)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rpcStore.Write(write.Delete(cf, []byte(args[0])))
			if err != nil {
				return err
			}
			fmt.Printf("delete successfully (index=%d)\n", res.Index)
			return nil
		},
	}
	delRangeCmd = &cobra.Command{
		Use:   "delrange [start] [end]",
		Short: "Deletes all keys in [start, end)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rpcStore.Write(write.DeleteRange(cf, []byte(args[0]), []byte(args[1])))
			if err != nil {
				return err
			}
			fmt.Printf("delete range successfully (index=%d)\n", res.Index)
			return nil
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [op]...",
		Short: "Applies several ops atomically",
		Long: `Applies several ops atomically in one write command. Each op is one of
  put:KEY=VALUE
  del:KEY
  delrange:START..END
All keys must belong to the same partition. The column family is taken from --cf.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := make([]write.Op, 0, len(args))
			for _, arg := range args {
				op, err := parseOp(cf, arg)
				if err != nil {
					return err
				}
				ops = append(ops, op)
			}
			res, err := rpcStore.Write(ops...)
			if err != nil {
				return err
			}
			fmt.Printf("write of %d ops successfully (index=%d)\n", len(ops), res.Index)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about a partition (requires --partition)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetInfo()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

// parseOp parses the op syntax of the write command
func parseOp(cf db.CF, s string) (write.Op, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return write.Op{}, fmt.Errorf("invalid op %q (expected TYPE:ARGS)", s)
	}
	switch kind {
	case "put":
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return write.Op{}, fmt.Errorf("invalid put %q (expected put:KEY=VALUE)", s)
		}
		return write.Put(cf, []byte(key), []byte(value)), nil
	case "del":
		return write.Delete(cf, []byte(arg)), nil
	case "delrange":
		start, end, ok := strings.Cut(arg, "..")
		if !ok || end == "" || start >= end {
			return write.Op{}, fmt.Errorf("invalid delrange %q (expected delrange:START..END with START < END)", s)
		}
		return write.DeleteRange(cf, []byte(start), []byte(end)), nil
	default:
		return write.Op{}, fmt.Errorf("unknown op type %q", kind)
	}
}
