// Точка входа sciencerepo — ядро репозитория научных данных.
// Команды: serve (HTTP API), migrate (миграции БД), doi (генерация и проверка DOI).
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/sciencerepo/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sciencerepo",
	Short: "Репозиторий научных данных с публикацией DOI",
	Long: `sciencerepo публикует объекты ScienceData как версионированные записи
с DOI, регистрирует их в DataCite и предоставляет REST API.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Ошибка выполнения команды", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
