package policy

import (
	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// RefundPercent выбирает процент возврата по тарифной сетке отмены.
// Применяется тариф с наибольшим порогом, не превышающим фактическое
// время до начала. Если время до начала меньше всех порогов — возврат 0%.
// Пустая сетка — ошибка конфигурации, а не молчаливый 0%: иначе клиент
// лишился бы денег из-за незаполненной таблицы.
func RefundPercent(tiers []models.CancellationPolicyTier, hoursBeforeStart float64) (int, error) {
	if len(tiers) == 0 {
		return 0, apperror.New(apperror.ErrCodeConfiguration, "тарифы отмены не настроены")
	}

	best := -1
	percent := 0
	for _, tier := range tiers {
		if float64(tier.HoursThreshold) <= hoursBeforeStart && tier.HoursThreshold > best {
			best = tier.HoursThreshold
			percent = tier.RefundPercent
		}
	}
	if best < 0 {
		return 0, nil
	}
	return percent, nil
}

// RefundAmount возвращает сумму возврата в минимальных единицах.
// Округление вниз: неделимый остаток остаётся в пользу исполнителя.
func RefundAmount(total int64, percent int) int64 {
	return total * int64(percent) / 100
}

// ValidateTiers проверяет корректность сетки перед сохранением:
// уникальные неотрицательные пороги, процент в пределах [0,100].
func ValidateTiers(tiers []models.CancellationPolicyTier) error {
	if len(tiers) == 0 {
		return apperror.New(apperror.ErrCodeInvalidArg, "сетка тарифов не может быть пустой")
	}

	seen := make(map[int]struct{}, len(tiers))
	for _, tier := range tiers {
		if tier.HoursThreshold < 0 {
			return apperror.New(apperror.ErrCodeInvalidArg, "порог тарифа не может быть отрицательным")
		}
		if tier.RefundPercent < 0 || tier.RefundPercent > 100 {
			return apperror.New(apperror.ErrCodeInvalidArg, "процент возврата должен быть в пределах 0-100")
		}
		if _, dup := seen[tier.HoursThreshold]; dup {
			return apperror.New(apperror.ErrCodeInvalidArg, "пороги тарифов должны быть уникальными")
		}
		seen[tier.HoursThreshold] = struct{}{}
	}
	return nil
}
