// Package cli реализует инструмент командной строки Verista.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Verista API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления справочником специалистов и
// верификационными звонками.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Verista API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	specialists, err := client.ListSpecialists()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: verista call list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - specialist: list, create, show, update
//   - call: list, schedule, show, complete, fail
//   - queue: stats
//
// Каждая группа создаётся через фабричную функцию (NewCallCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
