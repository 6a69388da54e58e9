package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bigkaa/sciencerepo/internal/config"
	"github.com/bigkaa/sciencerepo/internal/doi"
)

// errInvalidDOI — строка не является DOI.
var errInvalidDOI = errors.New("некорректный DOI")

var (
	doiPrefix string
	doiSuffix string
	doiRecid  int64
)

var doiCmd = &cobra.Command{
	Use:   "doi",
	Short: "Генерация и проверка DOI без обращения к БД",
}

var doiGenerateCmd = &cobra.Command{
	Use:   "generate <recid>",
	Short: "Вывести канонический DOI записи",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := loadProvider()
		if err != nil {
			return err
		}
		value, err := generateDOI(provider, args[0], doiPrefix, doiSuffix)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var doiCheckCmd = &cobra.Command{
	Use:   "check <doi>",
	Short: "Проверить синтаксис DOI и его принадлежность локальным префиксам",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := loadProvider()
		if err != nil {
			return err
		}
		report := checkDOI(provider, args[0], doiRecid)
		report.write(cmd.OutOrStdout())
		if !report.Valid {
			return fmt.Errorf("%w: %q", errInvalidDOI, args[0])
		}
		return nil
	},
}

func init() {
	doiGenerateCmd.Flags().StringVar(&doiPrefix, "prefix", "", "DOI-префикс (по умолчанию SR_DOI_PREFIX)")
	doiGenerateCmd.Flags().StringVar(&doiSuffix, "suffix", "", "суффикс DOI (по умолчанию SR_DOI_SUFFIX)")
	doiCheckCmd.Flags().Int64Var(&doiRecid, "recid", 0, "сравнить с каноническим DOI записи")

	doiCmd.AddCommand(doiGenerateCmd, doiCheckCmd)
	rootCmd.AddCommand(doiCmd)
}

func loadProvider() (*doi.Provider, error) {
	cfg, err := config.LoadDOI()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	return doi.NewProvider(cfg.DOIPrefix, cfg.DOISuffix, cfg.DOILocalPrefixes, cfg.DOIRecidRemap), nil
}

// generateDOI разбирает recid и возвращает DOI.
func generateDOI(p *doi.Provider, recidArg, prefix, suffix string) (string, error) {
	recid, err := strconv.ParseInt(recidArg, 10, 64)
	if err != nil || recid < 1 {
		return "", fmt.Errorf("recid: ожидается положительное целое, получено %q", recidArg)
	}
	return p.GenerateWith(recid, prefix, suffix), nil
}

// doiReport — результат doi check.
type doiReport struct {
	DOI   string
	Valid bool
	Local bool
	// Canonical заполняется только при заданном recid
	Canonical *bool
}

func checkDOI(p *doi.Provider, value string, recid int64) doiReport {
	normalized := doi.Normalize(value)
	report := doiReport{
		DOI:   normalized,
		Valid: doi.IsDOI(normalized),
	}
	if !report.Valid {
		return report
	}
	report.Local = p.IsLocal(normalized)
	if recid > 0 {
		canonical := p.IsCanonical(normalized, recid)
		report.Canonical = &canonical
	}
	return report
}

func (r doiReport) write(w io.Writer) {
	fmt.Fprintf(w, "doi: %s\n", r.DOI)
	fmt.Fprintf(w, "valid: %t\n", r.Valid)
	if !r.Valid {
		return
	}
	fmt.Fprintf(w, "local: %t\n", r.Local)
	fmt.Fprintf(w, "url: %s\n", doi.URL(r.DOI))
	if r.Canonical != nil {
		fmt.Fprintf(w, "canonical: %t\n", *r.Canonical)
	}
}
