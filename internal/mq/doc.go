// Package mq — обмен событиями о судьбе звонков через RabbitMQ.
//
// Голосовая сессия живёт вне этого сервиса; о завершении или провале
// звонка она сообщает асинхронно, публикуя событие в exchange
// verista.calls. Consumer на стороне dialer-процесса превращает эти
// события в вызовы CallCompleted/CallFailed оркестратора.
//
// Пакет даёт Connection с автоматическим reconnect, Publisher и
// Consumer с ручным ack; некорректные сообщения уходят в DLQ.
package mq
