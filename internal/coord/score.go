package coord

import "time"

// scoreEpoch — опорная точка для компоненты времени в score.
// Любой разумный момент в будущем относительно created_at записей.
var scoreEpoch = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// Score вычисляет score очереди из приоритета и времени постановки.
//
// Основная компонента — приоритет (больше = раньше). Дробная добавка
// из времени детерминированно разрешает ничьи: среди равных приоритетов
// раньше созданный звонок получает больший score и снимается первым.
// Добавка меньше 1e-3, поэтому приоритеты, отличающиеся хотя бы на
// 0.001, она не переупорядочивает.
func Score(priority float64, createdAt time.Time) float64 {
	tie := float64(scoreEpoch.Sub(createdAt)/time.Second) * 1e-13
	return priority + tie
}
