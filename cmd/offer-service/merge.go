package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

var mergeInput string

var mergeRulesCmd = &cobra.Command{
	Use:   "merge-rules",
	Short: "Merge per-country eligibility rules and print the resulting placements",
	Long: `merge-rules 读取按国家排列的规则列表（YAML 或 JSON，"-" 表示标准输入），
输出合并后的 eligibility 规则，与发布时写入定向配置的内容一致。`,
	RunE: runMergeRules,
}

func init() {
	mergeRulesCmd.Flags().StringVarP(&mergeInput, "file", "f", "-", "Rules file, - for stdin")
}

func runMergeRules(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if mergeInput == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(mergeInput)
	}
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}

	// JSON 是 YAML 的子集，一个解码器即可
	var input []domain.CountryRules
	if err := yaml.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(domain.Entries(domain.MergeRules(input)))
}
