// Package dialer — единственный фоновый процесс, выполняющий dispatch.
//
// Worker опрашивает оркестратор в одиночку: лимит конкурентности
// относится к активным звонкам, а не к потокам, поэтому один цикл
// poll → dispatch покрывает всю пропускную способность. Отдельные
// горутины ведут reconcile зависших звонков и экспорт гейджей.
//
// Sweep по расписанию находит специалистов с устаревшей верификацией
// и ставит на них звонки в рабочие часы.
package dialer
