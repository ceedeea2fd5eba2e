// Package gateway — клиент голосового шлюза, создающего сессии и
// набирающего исходящую ногу звонка.
//
// Шлюз — внешний сервис; здесь только узкий контракт (Dialer) и его
// HTTP-реализация. Создание сессии и набор ноги считаются одной
// логической попыткой dispatch: ошибка любого из двух вызовов
// прерывает попытку и отдаётся как одна транзиентная ошибка.
package gateway
